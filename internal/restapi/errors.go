package restapi

import (
	"errors"
	"fmt"
)

// CrawlErrorKind is the closed taxonomy of per-request failures from
// spec.md section 7.
type CrawlErrorKind int

const (
	Timeout CrawlErrorKind = iota
	HTTPStatus
	Protocol
	Parse
	EndpointMissing
)

func (k CrawlErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case HTTPStatus:
		return "http-status"
	case Protocol:
		return "protocol"
	case Parse:
		return "parse"
	case EndpointMissing:
		return "endpoint-missing"
	default:
		return "unknown"
	}
}

// CrawlError is a typed, per-request failure. It is recorded on the owning
// node or cache entry and surfaced to every current and future consumer of
// that key without automatic retry, except for Timeout on idempotent GETs
// which HTTPClient retries once (spec.md section 7).
type CrawlError struct {
	Kind       CrawlErrorKind
	StatusCode int // set when Kind == HTTPStatus
	Endpoint   string
	Cause      error
}

func (e *CrawlError) Error() string {
	switch e.Kind {
	case HTTPStatus:
		return fmt.Sprintf("studip-fuse: %s: http status %d", e.Endpoint, e.StatusCode)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("studip-fuse: %s: %s: %v", e.Endpoint, e.Kind, e.Cause)
		}
		return fmt.Sprintf("studip-fuse: %s: %s", e.Endpoint, e.Kind)
	}
}

func (e *CrawlError) Unwrap() error { return e.Cause }

// IsTimeout reports whether err is a retry-eligible CrawlError::Timeout.
func IsTimeout(err error) bool {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind == Timeout
	}
	return false
}
