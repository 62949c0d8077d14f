package llm

import (
	"fmt"
	"strings"
)

// ApprovalError indicates the requested model is gated and needs a one-time
// access grant before it can be used.
type ApprovalError struct {
	Model       string
	ApprovalURL string
	Err         error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("model %q requires approval. Request access at: %s", e.Model, e.ApprovalURL)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

// isGatedError reports whether an upstream error text signals a gated model.
// Local runtimes surface this as a 403 or a "gated repo" message passed
// through from the hub.
func isGatedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "gated repo") || strings.Contains(msg, "403")
}
