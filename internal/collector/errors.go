package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared across the pipeline.
var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrStale             = errors.New("stale version")
	ErrPolicyViolation   = errors.New("crawl disallowed by source policy")
	ErrTransientFetch    = errors.New("transient fetch error")
	ErrPermanentFetch    = errors.New("permanent fetch error")
	ErrCancelled         = errors.New("cancelled")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ErrorKind is the persisted class of a job error.
type ErrorKind string

// Error kinds recorded on jobs.
const (
	KindNone            ErrorKind = ""
	KindPolicyViolation ErrorKind = "policy_violation"
	KindTransient       ErrorKind = "transient"
	KindPermanent       ErrorKind = "permanent"
	KindCancelled       ErrorKind = "cancelled"
)

// Retryable reports whether a job failing with this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// FetchError describes a failed fetch. It matches both its kind sentinel and
// the underlying cause with errors.Is.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel := kindSentinel(e.Kind); sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewStatusError builds a FetchError for a non-success HTTP status.
func NewStatusError(rawURL string, status int) *FetchError {
	return &FetchError{
		Kind:       ClassifyStatus(status),
		StatusCode: status,
		URL:        rawURL,
		Err:        fmt.Errorf("unexpected status %d %s", status, http.StatusText(status)),
	}
}

// ClassifyStatus maps an HTTP status code to an error kind. 2xx/3xx yield
// KindNone. 408 and 429 are retried like 5xx responses.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status >= 200 && status < 400:
		return KindNone
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 400 && status < 500:
		return KindPermanent
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// Classify maps any error to the taxonomy. Validation errors are permanent;
// unknown errors are treated as transient network failures.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var fetchErr *FetchError
	switch {
	case errors.Is(err, ErrPolicyViolation):
		return KindPolicyViolation
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &fetchErr) && fetchErr.Kind != KindNone:
		return fetchErr.Kind
	case errors.Is(err, ErrPermanentFetch), errors.Is(err, ErrValidation):
		return KindPermanent
	case errors.Is(err, ErrTransientFetch), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	return KindTransient
}

func kindSentinel(kind ErrorKind) error {
	switch kind {
	case KindPolicyViolation:
		return ErrPolicyViolation
	case KindTransient:
		return ErrTransientFetch
	case KindPermanent:
		return ErrPermanentFetch
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}
