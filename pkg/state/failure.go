package state

import "fmt"

// Failure marks an output key whose owning stage did not produce it.
// Downstream stages and the orchestrator inspect it with AsFailure instead of
// matching error text.
type Failure struct {
	Stage  string `json:"stage"`
	Reason string `json:"error"`
	Failed bool   `json:"failed"`
}

// NewFailure returns a marker for stage with the given reason.
func NewFailure(stage, reason string) Failure {
	return Failure{Stage: stage, Reason: reason, Failed: true}
}

func (f Failure) String() string {
	return fmt.Sprintf("%s failed: %s", f.Stage, f.Reason)
}

// AsFailure reports whether v is a failure marker.
func AsFailure(v any) (Failure, bool) {
	switch f := v.(type) {
	case Failure:
		return f, true
	case *Failure:
		if f != nil {
			return *f, true
		}
	}
	return Failure{}, false
}

// IsFailure reports whether v is a failure marker.
func IsFailure(v any) bool {
	_, ok := AsFailure(v)
	return ok
}

// Failures returns every failure marker in the snapshot keyed by state key.
func (s Snapshot) Failures() map[string]Failure {
	out := make(map[string]Failure)
	for k, v := range s.values {
		if f, ok := AsFailure(v); ok {
			out[k] = f
		}
	}
	return out
}
