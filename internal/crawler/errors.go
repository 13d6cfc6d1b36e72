package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind separates failures the scheduler retries from those it does not.
type FailureKind int

// Failure kinds.
const (
	Transient FailureKind = iota + 1
	Permanent
)

func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ErrDisallowed marks a URL blocked by robots.txt.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// ErrParse marks a URL or document the processor could not turn into a page. It is
// permanent.
var ErrParse = errors.New("unusable content")

// ErrObjectNotFound is returned by blob stores for URIs they do not hold.
var ErrObjectNotFound = errors.New("object not found")

// FetchError describes why a crawl of a URL failed.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch failure: http %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s fetch failure: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewStatusError classifies an HTTP status: 5xx and 429 are transient, other 4xx permanent.
func NewStatusError(status int) *FetchError {
	kind := Permanent
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout {
		kind = Transient
	}
	return &FetchError{Kind: kind, StatusCode: status}
}

// NewNetworkError wraps a transport failure. Timeouts and resets are transient.
func NewNetworkError(err error) *FetchError {
	return &FetchError{Kind: Transient, Err: err}
}

// Classify maps an arbitrary pipeline error onto a failure kind.
func Classify(err error) FailureKind {
	if err == nil {
		return 0
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrDisallowed) || errors.Is(err, ErrParse) {
		return Permanent
	}
	// Timeouts, resets and anything unrecognized get another chance.
	return Transient
}
