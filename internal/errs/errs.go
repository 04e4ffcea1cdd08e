// Package errs defines the closed error taxonomy carried across every
// Legio boundary. CLI commands translate these into structured stderr
// blocks and exit codes; the HTTP layer maps them onto status codes.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies an error class for machine-readable reporting.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAgent      Kind = "agent"
	KindMerge      Kind = "merge"
	KindServer     Kind = "server"
	KindNotFound   Kind = "not_found"
)

// ValidationError reports invalid user input or arguments. Exit code 2.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AgentError wraps a failure with the agent it concerns. Used by spawn,
// nudge, triage, and the tmux adapter.
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Agentf builds an AgentError with a formatted cause.
func Agentf(agent, format string, args ...interface{}) error {
	return &AgentError{Agent: agent, Err: fmt.Errorf(format, args...)}
}

// MergeError carries the branch and resolution tier of a failed merge.
type MergeError struct {
	Branch string
	Tier   string
	Err    error
}

func (e *MergeError) Error() string {
	if e.Tier != "" {
		return fmt.Sprintf("merge %s (tier %s): %v", e.Branch, e.Tier, e.Err)
	}
	return fmt.Sprintf("merge %s: %v", e.Branch, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// ServerError reports listener and bind failures.
type ServerError struct {
	Addr string
	Err  error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %v", e.Addr, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }

// NotFoundError reports a missing resource by kind and key. Stores return
// it for missing rows; the HTTP layer translates it into 404.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// NotFound builds a NotFoundError.
func NotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

// KindOf classifies an error into the taxonomy. Unclassified errors
// report as empty Kind.
func KindOf(err error) Kind {
	var (
		ve *ValidationError
		ae *AgentError
		me *MergeError
		se *ServerError
		ne *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ae):
		return KindAgent
	case errors.As(err, &me):
		return KindMerge
	case errors.As(err, &se):
		return KindServer
	case errors.As(err, &ne):
		return KindNotFound
	default:
		return ""
	}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExitCode maps an error to the CLI exit code convention:
// 0 success, 2 validation, 1 everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if IsValidation(err) {
		return 2
	}
	return 1
}
