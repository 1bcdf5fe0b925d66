package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Taxonomy implements spec §7's error classes. Every routing/forwarding
// failure maps to exactly one of these before it reaches the HTTP/2
// listener, so the listener never has to inspect lower-level error types
// directly.
type Kind int

const (
	// KindBadRequest: the inbound request's routing metadata was missing
	// or malformed. Maps to HTTP 400.
	KindBadRequest Kind = iota
	// KindNotFound: the routing key resolved to no known target. Maps to
	// HTTP 404.
	KindNotFound
	// KindConnectError: dialing the overlay connection failed. Maps to
	// HTTP 502.
	KindConnectError
	// KindStreamError: opening or using the per-request overlay stream
	// failed after the connection itself was healthy. Maps to HTTP 502.
	KindStreamError
	// KindFramingError: the bytes on the stream were not a well-formed
	// HTTP/1.1 message. Maps to HTTP 502.
	KindFramingError
	// KindTruncated: the stream ended before the response status line and
	// headers were complete. Maps to HTTP 502. A body cut short after the
	// headers arrived is not classified here; it surfaces as a read error
	// on the response body.
	KindTruncated
	// KindUpstreamError: the device-side upstream explicitly reported it
	// could not reach its local target. Maps to HTTP 502.
	KindUpstreamError
	// KindTimeout: a deadline elapsed waiting on the overlay or upstream.
	// Maps to HTTP 504.
	KindTimeout
	// KindCancelled: the inbound request's context was cancelled by the
	// client before a response arrived. No status is written; the
	// connection is simply dropped.
	KindCancelled
)

// Error is the single error type gateway code returns; callers map it to an
// HTTP status (or no response at all, for KindCancelled) via Status.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway: %s", e.Kind)
	}
	return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindConnectError:
		return "connect_error"
	case KindStreamError:
		return "stream_error"
	case KindFramingError:
		return "framing_error"
	case KindTruncated:
		return "truncated"
	case KindUpstreamError:
		return "upstream_error"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Status maps a Kind to the HTTP status code the Gateway writes to the
// caller. KindCancelled has no status: the caller's own context is already
// cancelled, so nothing is written.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConnectError, KindStreamError, KindFramingError, KindTruncated, KindUpstreamError:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// AsGatewayError extracts the classified *Error from err, if present.
func AsGatewayError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
