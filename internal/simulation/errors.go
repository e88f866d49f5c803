package simulation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for typed error checking.
var (
	ErrInvalidRequest  = errors.New("invalid simulation request")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrEngineNotFound  = errors.New("engine not found")
	ErrEngineExecution = errors.New("engine execution failed")
	ErrEngineTimeout   = errors.New("engine timed out")
	ErrMissingArtifact = errors.New("missing engine artifact")
	ErrOutputParse     = errors.New("engine output could not be parsed")
	ErrPoolClosed      = errors.New("worker pool closed")
)

// ValidationError names the request parameter that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if strings.Contains(e.Message, e.Field) {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// RateLimitError is returned when a client exceeds an admission ceiling.
type RateLimitError struct {
	Client string
	Limit  string // e.g. "10/minute"
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s", e.Limit)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// EngineError wraps a failed engine invocation. Err carries one of the
// ErrEngine* sentinels.
type EngineError struct {
	Engine   string // Engine label, e.g. "Factor model"
	ExitCode int
	Stderr   string
	Err      error
}

func (e *EngineError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s error: %s", e.Engine, e.Stderr)
	}
	return fmt.Sprintf("%s error: %s", e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ArtifactError reports a missing or unreadable engine output table.
type ArtifactError struct {
	Engine string
	Name   string // Artifact file name, never a full path
	Detail string
	Err    error // ErrMissingArtifact or ErrOutputParse
}

func (e *ArtifactError) Error() string {
	if errors.Is(e.Err, ErrMissingArtifact) {
		return fmt.Sprintf("Missing %s", e.Name)
	}
	return fmt.Sprintf("%s output %s: %s", e.Engine, e.Name, e.Detail)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// PipelineError wraps errors with pipeline run context.
type PipelineError struct {
	RunID string
	State State // State the run was in when it failed
	Err   error
}

func (e *PipelineError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("run %s: %s: %s", e.RunID, e.State, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsValidation returns true if the error is a request validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsRateLimited returns true if the error is an admission-control rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTimeout returns true if the error is an engine or pipeline timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrEngineTimeout)
}

// Kind classifies err into a short label for metrics and the audit log.
func Kind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidRequest):
		return "validation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrEngineNotFound):
		return "engine_not_found"
	case errors.Is(err, ErrEngineTimeout):
		return "timeout"
	case errors.Is(err, ErrEngineExecution):
		return "engine_failed"
	case errors.Is(err, ErrMissingArtifact):
		return "missing_artifact"
	case errors.Is(err, ErrOutputParse):
		return "parse_error"
	case errors.Is(err, ErrPoolClosed):
		return "unavailable"
	default:
		return "error"
	}
}
