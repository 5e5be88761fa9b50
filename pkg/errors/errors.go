// Package errors provides the closed error taxonomy used throughout the
// client: parsing, protocol framing, resource constraints, and the
// various flavors of IO failure each get their own typed constructor so
// callers can branch on Kind instead of parsing messages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind represents the category of error that occurred.
type Kind string

const (
	KindParse           Kind = "parse"
	KindProtocol        Kind = "protocol"
	KindConstraint      Kind = "constraint"
	KindCommunication   Kind = "communication"
	KindFailedToConnect Kind = "failed_to_connect"
	KindIOTimeout       Kind = "io_timeout"
	KindDecompress      Kind = "decompress"
	KindHTTP            Kind = "http"
	KindUnknownProperty Kind = "unknown_property"
	KindObjectExpired   Kind = "object_expired"
	KindNotImplemented  Kind = "not_implemented"

	// KindDNS, KindConnection and KindTLS are sub-flavors of
	// CommunicationError/FailedToConnectError kept distinct for
	// diagnostics (mirrors client.go's per-phase error types).
	KindDNS        Kind = "dns"
	KindConnection Kind = "connection"
	KindTLS        Kind = "tls"
	KindIO         Kind = "io"
	KindValidation Kind = "validation"
	KindProxy      Kind = "proxy"
)

// CancelReason tags why a socket was closed out from under a blocked
// read/write. Only closing the socket can wake a suspended task, so
// every cancellation path stamps one of these.
type CancelReason string

const (
	ReasonTimeout      CancelReason = "TIME_OUT"
	ReasonCallerClosed CancelReason = "CALLER_CLOSED"
	ReasonPoolShutdown CancelReason = "POOL_SHUTDOWN"
)

// Error is a structured error with enough context to log or branch on
// without string matching.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Cause      error
	Host       string
	Port       int
	Addr       string
	Timestamp  time.Time
	StatusCode int          // populated for KindHTTP
	Reason     CancelReason // populated for KindIOTimeout / cancellation
}

// Error implements the error interface.
// Format: [kind] op addr: message: cause
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Addr != "" {
		parts = append(parts, e.Addr)
	} else if e.Host != "" {
		if e.Port > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", e.Host, e.Port))
		} else {
			parts = append(parts, e.Host)
		}
	}

	errStr := strings.Join(parts, " ")
	if e.Message != "" {
		errStr += ": " + e.Message
	}
	if e.Cause != nil {
		errStr += ": " + e.Cause.Error()
	}
	return errStr
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target type by Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newErr(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// NewParseError builds a ParseError for a malformed URL, status line,
// header, chunk size, or JSON token.
func NewParseError(op, message string, cause error) *Error {
	return newErr(KindParse, op, message, cause)
}

// NewProtocolError builds a ProtocolError: missing CRLF, unsupported
// HTTP version, body length mismatch.
func NewProtocolError(op, message string, cause error) *Error {
	return newErr(KindProtocol, op, message, cause)
}

// NewConstraintError builds a ConstraintError: redirect limit, memory
// budget, pool cap, oversized header.
func NewConstraintError(op, message string) *Error {
	return newErr(KindConstraint, op, message, nil)
}

// NewCommunicationError wraps a socket IO failure not mapped to a more
// specific kind.
func NewCommunicationError(op string, cause error) *Error {
	return newErr(KindCommunication, op, "communication failure", cause)
}

// NewFailedToConnectError reports every resolved address exhausted
// without a successful connect.
func NewFailedToConnectError(host string, port int, cause error) *Error {
	e := newErr(KindFailedToConnect, "connect", fmt.Sprintf("failed to connect to %s:%d after exhausting resolved addresses", host, port), cause)
	e.Host, e.Port, e.Addr = host, port, fmt.Sprintf("%s:%d", host, port)
	return e
}

// NewIOTimeoutError reports a timer-driven socket close during a read
// or write.
func NewIOTimeoutError(op string, timeout time.Duration) *Error {
	e := newErr(KindIOTimeout, op, fmt.Sprintf("operation timed out after %v", timeout), nil)
	e.Reason = ReasonTimeout
	return e
}

// NewCancelError reports a socket closed by something other than a
// timeout (caller-initiated close, pool shutdown).
func NewCancelError(op string, reason CancelReason) *Error {
	e := newErr(KindIOTimeout, op, "operation canceled: "+string(reason), nil)
	e.Reason = reason
	return e
}

// NewDecompressError reports an inflate failure.
func NewDecompressError(op string, cause error) *Error {
	return newErr(KindDecompress, op, "decompression failed", cause)
}

// NewHTTPError reports a non-2xx response surfaced as an error because
// ThrowOnHTTPError is true.
func NewHTTPError(statusCode int, reasonPhrase string) *Error {
	e := newErr(KindHTTP, "response", fmt.Sprintf("HTTP %d %s", statusCode, reasonPhrase), nil)
	e.StatusCode = statusCode
	return e
}

// NewUnknownPropertyError reports a strict JSON decode seeing an
// unmapped field.
func NewUnknownPropertyError(fieldName string) *Error {
	return newErr(KindUnknownProperty, "decode", fmt.Sprintf("unknown property %q", fieldName), nil)
}

// NewObjectExpiredError reports use of a connection or pool after
// shutdown.
func NewObjectExpiredError(op string) *Error {
	return newErr(KindObjectExpired, op, "object has expired or the pool has been closed", nil)
}

// NewNotImplementedError reports a feature requested in a build that
// doesn't support it (e.g. TLS requested without TLS support).
func NewNotImplementedError(feature string) *Error {
	return newErr(KindNotImplemented, "build", feature+" is not implemented in this build", nil)
}

// NewDNSError creates a DNS resolution error (a CommunicationError
// sub-flavor, kept distinct for diagnostics).
func NewDNSError(host string, cause error) *Error {
	e := newErr(KindDNS, "lookup", fmt.Sprintf("DNS lookup failed for host %s", host), cause)
	e.Host, e.Addr = host, host
	return e
}

// NewConnectionError creates a TCP connection error.
func NewConnectionError(host string, port int, cause error) *Error {
	addr := fmt.Sprintf("%s:%d", host, port)
	e := newErr(KindConnection, "dial", fmt.Sprintf("failed to connect to %s", addr), cause)
	e.Host, e.Port, e.Addr = host, port, addr
	return e
}

// NewTLSError creates a TLS handshake error.
func NewTLSError(host string, port int, cause error) *Error {
	addr := fmt.Sprintf("%s:%d", host, port)
	e := newErr(KindTLS, "handshake", fmt.Sprintf("TLS handshake failed for %s", addr), cause)
	e.Host, e.Port, e.Addr = host, port, addr
	return e
}

// NewIOError creates a generic read/write IO error.
func NewIOError(operation string, cause error) *Error {
	op := operation
	lower := strings.ToLower(operation)
	switch {
	case strings.Contains(lower, "read"):
		op = "read"
	case strings.Contains(lower, "writ"):
		op = "write"
	}
	return newErr(KindIO, op, fmt.Sprintf("I/O error during %s", operation), cause)
}

// NewValidationError creates a validation error for malformed input
// that never reached the wire.
func NewValidationError(message string) *Error {
	return newErr(KindValidation, "validate", message, nil)
}

// NewProxyError creates a proxy dial/negotiation error.
func NewProxyError(proxyType, addr, op string, cause error) *Error {
	e := newErr(KindProxy, op, fmt.Sprintf("proxy (%s) %s failed at %s", proxyType, op, addr), cause)
	e.Addr = addr
	return e
}

// IsTimeoutError reports whether err is a timeout, by kind or by the
// underlying net.Error/context signaling one.
func IsTimeoutError(err error) bool {
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if e, ok := cur.(*Error); ok && e.Kind == KindIOTimeout && e.Reason == ReasonTimeout {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCanceled reports whether err resulted from an explicit cancellation
// (caller close or pool shutdown) rather than a timeout.
func IsCanceled(err error) bool {
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if e, ok := cur.(*Error); ok && e.Kind == KindIOTimeout && e.Reason != "" && e.Reason != ReasonTimeout {
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}

// GetKind returns the error Kind if err is a structured *Error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsContextCanceled reports whether err is due to context cancellation.
func IsContextCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsContextTimeout reports whether err is due to a context deadline.
func IsContextTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
