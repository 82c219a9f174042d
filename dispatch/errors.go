package dispatch

import (
	"errors"
	"fmt"

	"github.com/rashee1997/orchestrator-sub006/classify"
	"github.com/rashee1997/orchestrator-sub006/model"
)

// Sentinel errors.
var (
	// ErrAllBackendsExhausted matches a dispatch that tried every candidate
	// without success.
	ErrAllBackendsExhausted = errors.New("all backends exhausted")

	// ErrNotAdmitted indicates no credential could obtain rate-limit
	// admission within the attempt's timeout budget.
	ErrNotAdmitted = errors.New("rate limit admission denied")

	// ErrQuotaExhausted indicates every credential of a model's provider
	// has used up its quota for that model.
	ErrQuotaExhausted = errors.New("quota exhausted on every credential")

	// ErrNoTransport indicates a model's provider has no transport.
	ErrNoTransport = errors.New("no transport for provider")
)

// Kind is the category of a dispatch failure.
type Kind string

// Failure kinds.
const (
	KindAuthentication       Kind = "authentication"
	KindRateLimited          Kind = "rate_limited"
	KindQuotaExhausted       Kind = "quota_exhausted"
	KindTransientNetwork     Kind = "transient_network"
	KindMalformedRequest     Kind = "malformed_request"
	KindAllBackendsExhausted Kind = "all_backends_exhausted"
	KindNoModel              Kind = "no_model"
	KindCanceled             Kind = "canceled"
)

// Stage names where a dispatch failed.
const (
	StageSelect     = "select"
	StageCredential = "credential"
	StageAdmission  = "admission"
	StageSend       = "send"
)

// Error is the single error type returned by Dispatch.
type Error struct {
	Kind  Kind
	Stage string
	Task  model.TaskType
	Model string

	// AllRateLimited is set on exhaustion when every failed attempt was a
	// rate-limit rejection or an admission denial.
	AllRateLimited bool

	// Err is the last underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("dispatch %s: %s at %s", e.Task, e.Kind, e.Stage)
	if e.Model != "" {
		msg += " (model " + e.Model + ")"
	}
	if e.AllRateLimited {
		msg += ", all rate limited"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches ErrAllBackendsExhausted for exhaustion errors.
func (e *Error) Is(target error) bool {
	return target == ErrAllBackendsExhausted && e.Kind == KindAllBackendsExhausted
}

// Retryable reports whether the caller may reasonably retry later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTransientNetwork:
		return true
	case KindAllBackendsExhausted:
		return e.AllRateLimited
	default:
		return false
	}
}

// kindOf maps a classifier kind to a dispatch kind. Unrecognised failures
// fail closed as malformed requests.
func kindOf(k classify.Kind) Kind {
	switch k {
	case classify.KindAuthentication:
		return KindAuthentication
	case classify.KindQuotaExhausted:
		return KindQuotaExhausted
	case classify.KindRateLimited:
		return KindRateLimited
	case classify.KindTransient:
		return KindTransientNetwork
	default:
		return KindMalformedRequest
	}
}

// IsKind reports whether err is a dispatch error of kind k.
func IsKind(err error, k Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == k
}
