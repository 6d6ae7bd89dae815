package domain

import (
	"context"
	"errors"
	"net/http"
)

// Common domain errors
var (
	ErrRouteNotFound    = errors.New("route not found")
	ErrUnknownUnit      = errors.New("unknown computation unit")
	ErrDuplicateStep    = errors.New("duplicate step name")
	ErrInvalidOutput    = errors.New("output step not defined in pipeline")
	ErrPermissionDenied = errors.New("permission denied")
)

// FailureKind is the stable discriminator transport adapters use to render an
// invocation failure. Values never change once published.
type FailureKind string

const (
	KindRouteNotFound    FailureKind = "route_not_found"
	KindPermissionDenied FailureKind = "permission_denied"
	KindParseError       FailureKind = "parse_error"
	KindEvalError        FailureKind = "eval_error"
	KindStepFailed       FailureKind = "step_failed"
	KindCancelled        FailureKind = "cancelled"
	KindInternal         FailureKind = "internal"
)

// Kinder is implemented by errors that know their own failure kind. Wrapping
// errors (step failures in particular) forward the kind of their cause unless
// the cause is opaque.
type Kinder interface {
	FailureKind() FailureKind
}

// KindOf classifies an error into the failure taxonomy. Nil maps to the empty
// kind; unrecognized errors map to KindInternal.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}

	var kinder Kinder
	if errors.As(err, &kinder) {
		return kinder.FailureKind()
	}

	switch {
	case errors.Is(err, ErrRouteNotFound):
		return KindRouteNotFound
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// StatusOf returns the HTTP-equivalent status for a failure kind so adapters
// agree on the mapping without duplicating it.
func StatusOf(kind FailureKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case KindRouteNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindParseError, KindEvalError:
		return http.StatusBadRequest
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
