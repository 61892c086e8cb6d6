package resume

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/resilience"
)

const jobPage = `<html><head><title>Careers | Acme</title><style>.x{}</style></head>
<body>
<script>var tracking = true;</script>
<h1 class="job-title">Senior Backend Engineer</h1>
<div class="company-name">Acme Cloud</div>
<p>We are looking for a senior backend engineer to design and operate microservices at scale.</p>
<ul>
<li>Design and build Go microservices running on Kubernetes</li>
<li>Operate PostgreSQL and Kafka in production on AWS</li>
</ul>
<p>Nice to have: Terraform.</p>
</body></html>`

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond)
}

func TestExtractFromURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		if hits.Load() == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, jobPage)
	}))
	defer srv.Close()

	ex := NewJobExtractor(WithFetchRetry(fastRetry()))
	job, err := ex.Extract(context.Background(), JobSource{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	assert.Equal(t, "Senior Backend Engineer", job["job_title"])
	assert.Equal(t, "Acme Cloud", job["company"])
	assert.Equal(t, false, job["degraded"])
	assert.Equal(t, "url", job["source"])
	assert.Subset(t, job["required_skills"], []string{"Go", "Kubernetes", "PostgreSQL", "Kafka", "AWS"})
	assert.Equal(t, []string{"Terraform"}, job["preferred_skills"])
	assert.Len(t, job["responsibilities"], 2)

	raw := job["raw_text"].(string)
	assert.NotContains(t, raw, "tracking")
	assert.NotContains(t, raw, "Careers")
}

func TestExtractDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	_, err := NewJobExtractor(WithFetchRetry(fastRetry())).Extract(context.Background(), JobSource{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeProtocol))
	assert.Equal(t, int32(1), hits.Load())
}

func TestExtractRejectsThinPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body><p>Log in</p></body></html>")
	}))
	defer srv.Close()

	_, err := NewJobExtractor().Extract(context.Background(), JobSource{URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too little content")
}

func TestExtractPrefersText(t *testing.T) {
	job, err := NewJobExtractor().Extract(context.Background(), JobSource{URL: "http://127.0.0.1:1/never", Text: sampleJob})
	require.NoError(t, err)
	assert.Equal(t, "Senior Backend Engineer", job["job_title"])
	assert.Equal(t, "text", job["source"])
	assert.Contains(t, job["preferred_skills"], "Terraform")
	assert.NotContains(t, job["required_skills"], "Terraform")
}

func TestExtractValidatesInput(t *testing.T) {
	ex := NewJobExtractor()
	_, err := ex.Extract(context.Background(), JobSource{})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = ex.Extract(context.Background(), JobSource{URL: "ftp://example.com/job"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestDegradedJob(t *testing.T) {
	job := DegradedJob(JobSource{URL: "https://jobs.example.com/123", Text: "Go and Kubernetes"}, fmt.Errorf("boom"))
	assert.Equal(t, true, job["degraded"])
	assert.Equal(t, "boom", job["error"])
	assert.Equal(t, "fallback", job["source"])
	assert.True(t, strings.Contains(job["company"].(string), "jobs.example.com"))
	assert.Subset(t, job["required_skills"], []string{"Go", "Kubernetes"})
}
