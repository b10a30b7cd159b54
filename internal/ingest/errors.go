package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Stable error codes persisted on failed runs.
const (
	ErrCodeFetch        = "FETCH_ERROR"
	ErrCodeTimeout      = "FETCH_TIMEOUT"
	ErrCodeHTTPStatus   = "HTTP_STATUS"
	ErrCodePrecondition = "PRECONDITION_FAILED"
	ErrCodeUnknown      = "UNKNOWN"
)

// FetchError wraps a fetch-level failure for a URL. It carries the HTTP
// status when one was received; Status is zero for network failures.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PreconditionError marks a permanent defect in the job itself: missing
// correlation data or a referenced entity that does not exist. Never retried.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// Classification is the lifecycle manager's view of a failure.
type Classification struct {
	Code      string
	Transient bool
}

// Classify maps an error to a stable code and a retry decision. Unknown
// errors are conservatively treated as transient; the caller bounds the
// number of attempts before dead-lettering.
func Classify(err error) Classification {
	var precond *PreconditionError
	if errors.As(err, &precond) {
		return Classification{Code: ErrCodePrecondition, Transient: false}
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		if isTimeout(fetchErr.Err) {
			return Classification{Code: ErrCodeTimeout, Transient: true}
		}
		if fetchErr.Status >= 400 {
			return Classification{Code: ErrCodeHTTPStatus, Transient: true}
		}
		return Classification{Code: ErrCodeFetch, Transient: true}
	}
	if isTimeout(err) {
		return Classification{Code: ErrCodeTimeout, Transient: true}
	}
	return Classification{Code: ErrCodeUnknown, Transient: true}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
