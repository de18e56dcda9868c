package anpr

import (
	"errors"
	"fmt"
)

// ErrEmptyImage is returned before any request when the payload is empty.
var ErrEmptyImage = errors.New("anpr: image payload is empty")

// DefaultFailureMessage is used when the service reports a failure without a message.
const DefaultFailureMessage = "ANPR processing failed"

// ErrorKind classifies failures of a recognition call.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransport
	KindServiceHTTP
	KindServiceLogical
	KindMalformedResponse
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindServiceHTTP:
		return "service_http"
	case KindServiceLogical:
		return "service_logical"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "other"
	}
}

// TransportError means no HTTP response was received.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("anpr: request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceHTTPError means the service answered with a non-2xx status.
// Body is read best-effort and may be empty.
type ServiceHTTPError struct {
	StatusCode int
	Body       string
}

func (e *ServiceHTTPError) Error() string {
	return fmt.Sprintf("anpr: service responded with status %d: %s", e.StatusCode, e.Body)
}

// ServiceLogicalError means the service returned success=false.
type ServiceLogicalError struct {
	Message string
}

func (e *ServiceLogicalError) Error() string {
	return "anpr: " + e.Message
}

// MalformedResponseError means the body did not match the expected shape.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("anpr: malformed response: %s: %v", e.Reason, e.Err)
	}
	return "anpr: malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Kind reports which failure class err belongs to, looking through wrapping.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		transportErr *TransportError
		httpErr      *ServiceHTTPError
		logicalErr   *ServiceLogicalError
		malformedErr *MalformedResponseError
	)
	switch {
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &httpErr):
		return KindServiceHTTP
	case errors.As(err, &logicalErr):
		return KindServiceLogical
	case errors.As(err, &malformedErr):
		return KindMalformedResponse
	default:
		return KindOther
	}
}
