package runner

import (
	"errors"
	"fmt"
)

// ErrAgentNotFound aborts a run before any record is created.
var ErrAgentNotFound = errors.New("agent not found")

// ErrNoContent marks a run where no source produced usable content.
// Individual fetch failures are tolerated; a run with zero usable input is a
// hard failure.
var ErrNoContent = errors.New("no content fetched from any source")

// ValidationError reports a bad or missing source config field. Local,
// raised before any connection attempt, never retried.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// ConnectionError reports an unreachable tool server. Surfaced as a
// SourceResult error, non-fatal to the run.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UnsupportedSourceError reports an unknown source type tag.
type UnsupportedSourceError struct {
	Type string
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("unknown source type: %s", e.Type)
}
