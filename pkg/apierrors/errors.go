// Package apierrors defines the controller's error taxonomy: the kinds a
// task, the gateway, or the deployment driver can fail with, their HTTP
// status mapping, and whether pkg/task's RunUntilDone retries them.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure. Kinds are exhaustive over what the
// controller surfaces to callers and to the ambulance loop.
type Kind string

const (
	KeyMissing             Kind = "key_missing"
	Unauthorized           Kind = "unauthorized"
	Forbidden              Kind = "forbidden"
	UserNotFound           Kind = "user_not_found"
	ProjectNotFound        Kind = "project_not_found"
	InvalidProjectName     Kind = "invalid_project_name"
	InvalidOperation       Kind = "invalid_operation"
	ProjectAlreadyExists   Kind = "project_already_exists"
	ProjectNotReady        Kind = "project_not_ready"
	ProjectUnavailable     Kind = "project_unavailable"
	NotReady               Kind = "not_ready"
	Internal               Kind = "internal"
	EngineUnavailable      Kind = "engine_unavailable"
	NoNetwork              Kind = "no_network"
	InvalidContainerConfig Kind = "invalid_container_config"
	Timeout                Kind = "timeout"
	ServiceUnavailable     Kind = "service_unavailable"
)

// httpStatus is the exhaustive Kind -> HTTP status mapping from spec §7.
var httpStatus = map[Kind]int{
	KeyMissing:             http.StatusUnauthorized,
	Unauthorized:           http.StatusUnauthorized,
	Forbidden:              http.StatusForbidden,
	UserNotFound:           http.StatusNotFound,
	ProjectNotFound:        http.StatusNotFound,
	InvalidProjectName:     http.StatusBadRequest,
	InvalidOperation:       http.StatusBadRequest,
	ProjectAlreadyExists:   http.StatusBadRequest,
	ProjectNotReady:        http.StatusServiceUnavailable,
	ProjectUnavailable:     http.StatusBadGateway,
	NotReady:               http.StatusInternalServerError,
	Internal:               http.StatusInternalServerError,
	EngineUnavailable:      http.StatusBadGateway,
	NoNetwork:              http.StatusBadGateway,
	InvalidContainerConfig: http.StatusBadRequest,
	Timeout:                http.StatusGatewayTimeout,
	ServiceUnavailable:     http.StatusServiceUnavailable,
}

// retryable marks the kinds the outer task wrapper (pkg/task) retries with
// backoff instead of propagating as a terminal Err. The ambulance
// (pkg/worker) does not consult it.
var retryable = map[Kind]bool{
	EngineUnavailable: true,
	Timeout:           true,
	NoNetwork:         true,
}

// Error is a Kind-tagged error carrying an optional state label for
// user-facing messages (e.g. "cannot stop a project in the `creating` state").
type Error struct {
	Kind       Kind
	StateLabel string
	Step       string // which pipeline step failed, for deploy driver diagnostics
	Err        error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Step != "" && e.Err != nil:
		return fmt.Sprintf("%s: step %q: %v", e.Kind, e.Step, e.Err)
	case e.StateLabel != "" && e.Err != nil:
		return fmt.Sprintf("%s (state=%s): %v", e.Kind, e.StateLabel, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// WithState annotates the error with the state label active when it occurred.
func (e *Error) WithState(label string) *Error {
	e.StateLabel = label
	return e
}

// WithStep annotates the error with the deployment-driver step that failed.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// HTTPStatus returns the status code this error should surface as.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether RunUntilDone's backoff (pkg/task) retries an
// operation that failed with this kind.
func (e *Error) Retryable() bool { return retryable[e.Kind] }

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf extracts the Kind of err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return Internal
}
