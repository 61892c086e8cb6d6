package resume

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/resilience"
)

const (
	defaultUserAgent  = "Mozilla/5.0 (compatible; resumeflow/1.0)"
	defaultMaxBytes   = 2 << 20
	minContentLength  = 100
	maxRawTextLength  = 20000
	maxSummaryLength  = 500
	defaultJobTitle   = "Software Engineer"
	defaultJobCompany = "Unknown Company"
)

// JobSource identifies a job posting by URL or by its text.
type JobSource struct {
	URL  string `json:"job_url,omitempty"`
	Text string `json:"job_description,omitempty"`
}

// JobExtractor turns a job posting into the structured job_description
// value. It runs before the pipeline tree, outside of it.
type JobExtractor struct {
	client    *http.Client
	retry     resilience.RetryConfig
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

// ExtractorOption configures a JobExtractor.
type ExtractorOption func(*JobExtractor)

// WithHTTPClient replaces the HTTP client used to fetch postings.
func WithHTTPClient(c *http.Client) ExtractorOption {
	return func(e *JobExtractor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithFetchRetry sets the retry policy for fetching postings.
func WithFetchRetry(rc resilience.RetryConfig) ExtractorOption {
	return func(e *JobExtractor) { e.retry = rc }
}

// WithUserAgent sets the User-Agent header sent with fetches.
func WithUserAgent(ua string) ExtractorOption {
	return func(e *JobExtractor) {
		if ua != "" {
			e.userAgent = ua
		}
	}
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *JobExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewJobExtractor creates an extractor with a 10s fetch timeout and three
// attempts per fetch.
func NewJobExtractor(opts ...ExtractorOption) *JobExtractor {
	e := &JobExtractor{
		client:    &http.Client{Timeout: 10 * time.Second},
		retry:     resilience.DefaultRetryConfig(),
		userAgent: defaultUserAgent,
		maxBytes:  defaultMaxBytes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches and structures the posting. Text takes precedence over
// URL. On error the caller is expected to fall back to DegradedJob.
func (e *JobExtractor) Extract(ctx context.Context, src JobSource) (map[string]any, error) {
	if strings.TrimSpace(src.Text) != "" {
		job := structureJob(src.Text, pageHints{})
		job["source"] = "text"
		if src.URL != "" {
			job["source_url"] = src.URL
		}
		return job, nil
	}
	if src.URL == "" {
		return nil, errors.New(errors.CodeInvalidInput, "job_url or job_description is required", nil)
	}
	u, err := url.Parse(src.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New(errors.CodeInvalidInput, "invalid job url", err).WithContext("job_url", src.URL)
	}

	start := time.Now()
	policy := e.retry
	if policy.OnRetry == nil {
		policy = policy.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			e.logger.WarnContext(ctx, "job fetch failed, retrying",
				"url", src.URL,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", err,
			)
		})
	}
	page, err := resilience.Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return e.fetch(ctx, src.URL)
	})
	if err != nil {
		return nil, err
	}
	text, hints, err := extractText(page)
	if err != nil {
		return nil, errors.New(errors.CodeProtocol, "failed to parse job page", err).WithContext("job_url", src.URL)
	}
	if len(text) < minContentLength {
		return nil, errors.New(errors.CodeProtocol, "job page has too little content", nil).
			WithContext("job_url", src.URL).
			WithContext("length", len(text))
	}
	e.logger.Info("job posting fetched",
		"url", src.URL,
		"chars", len(text),
		"elapsed", time.Since(start),
	)
	job := structureJob(text, hints)
	job["source"] = "url"
	job["source_url"] = src.URL
	return job, nil
}

func (e *JobExtractor) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", errors.New(errors.CodeInvalidInput, "failed to build request", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.New(errors.CodeContextLost, "job fetch cancelled", err)
		}
		return "", errors.New(errors.CodeTimeout, "job fetch failed", err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return "", errors.New(errors.CodeProtocol, "failed to read job page", err).WithRecoverable(true)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		retry := resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
		return "", errors.New(errors.CodeProtocol, fmt.Sprintf("job fetch returned HTTP %d", resp.StatusCode), nil).
			WithContext("status", resp.StatusCode).
			WithRecoverable(retry)
	}
	return string(body), nil
}

// DegradedJob is the placeholder job_description used when extraction
// fails. The run continues on whatever text the request carried.
func DegradedJob(src JobSource, cause error) map[string]any {
	host := ""
	if u, err := url.Parse(src.URL); err == nil {
		host = u.Host
	}
	company := defaultJobCompany
	if host != "" {
		company = fmt.Sprintf("%s (from %s)", defaultJobCompany, host)
	}
	job := structureJob(src.Text, pageHints{})
	job["job_title"] = defaultJobTitle
	job["company"] = company
	job["degraded"] = true
	job["source"] = "fallback"
	if src.URL != "" {
		job["source_url"] = src.URL
	}
	if cause != nil {
		job["error"] = cause.Error()
	}
	return job
}

type pageHints struct {
	title   string
	heading string
	company string
}

var titleClassRE = regexp.MustCompile(`(?i)(job|title|position)`)
var companyClassRE = regexp.MustCompile(`(?i)company`)

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.Section: true,
	atom.Article: true, atom.Tr: true, atom.Header: true, atom.Footer: true,
}

// extractText returns the visible text of an HTML page, one block per line,
// plus title and company hints. Plain text input passes through unchanged.
func extractText(page string) (string, pageHints, error) {
	var hints pageHints
	if !strings.Contains(page, "<") {
		return strings.TrimSpace(page), hints, nil
	}
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", hints, err
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg:
				return
			case atom.Title:
				if hints.title == "" {
					hints.title = strings.TrimSpace(nodeText(n))
				}
				return
			case atom.H1, atom.H2:
				if hints.heading == "" && titleClassRE.MatchString(attr(n, "class")) {
					hints.heading = strings.TrimSpace(nodeText(n))
				}
			}
			if hints.company == "" && companyClassRE.MatchString(attr(n, "class")) {
				hints.company = strings.TrimSpace(nodeText(n))
			}
			if n.DataAtom == atom.Li {
				b.WriteString("\n- ")
			} else if blockElements[n.DataAtom] {
				b.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			b.WriteString("\n")
		}
	}
	walk(root)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" && line != "-" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), hints, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

var preferredRE = regexp.MustCompile(`(?i)(preferred|nice to have|nice-to-have|bonus|a plus)`)

// structureJob derives the job_description fields from posting text.
func structureJob(text string, hints pageHints) map[string]any {
	text = strings.TrimSpace(text)
	text = truncate(text, maxRawTextLength)
	lines := strings.Split(text, "\n")

	title := hints.heading
	if title == "" {
		title = hints.title
	}
	if title == "" {
		for _, l := range lines {
			l = strings.TrimSpace(strings.TrimLeft(l, "# "))
			if l != "" && len(l) <= 120 {
				title = l
				break
			}
		}
	}
	if title == "" {
		title = defaultJobTitle
	}
	company := hints.company
	if company == "" {
		company = defaultJobCompany
	}

	var responsibilities, qualifications, preferredLines []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if preferredRE.MatchString(l) {
			preferredLines = append(preferredLines, l)
		}
		if !strings.HasPrefix(l, "-") && !strings.HasPrefix(l, "*") && !strings.HasPrefix(l, "•") {
			continue
		}
		item := strings.TrimSpace(strings.TrimLeft(l, "-*• "))
		lower := strings.ToLower(item)
		if strings.Contains(lower, "degree") || strings.Contains(lower, "years") || strings.Contains(lower, "experience with") {
			qualifications = append(qualifications, item)
		} else {
			responsibilities = append(responsibilities, item)
		}
	}
	preferred := findTerms(strings.Join(preferredLines, "\n"), technicalSkills)
	var required []string
	for _, s := range findTerms(text, technicalSkills) {
		if !containsFold(preferred, s) {
			required = append(required, s)
		}
	}
	var keywords []string
	for _, t := range topTerms(text, 25) {
		keywords = append(keywords, t.Term)
	}

	summary := truncate(text, maxSummaryLength)
	return map[string]any{
		"job_title":        title,
		"company":          company,
		"job_summary":      summary,
		"required_skills":  nonNil(limit(required, 15)),
		"preferred_skills": nonNil(preferred),
		"responsibilities": nonNil(limit(responsibilities, 10)),
		"qualifications":   nonNil(limit(qualifications, 10)),
		"keywords":         nonNil(keywords),
		"raw_text":         text,
		"degraded":         false,
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
