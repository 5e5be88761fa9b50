// Package asynchttp is an asynchronous HTTP/1.1 client built around an
// explicit request/response engine, a streaming reader/writer
// pipeline, and a pooled set of connections per endpoint. It re-exports
// the handful of types a caller needs — Client, Request, Response,
// Properties and the JSON bridge — so importing this one package is
// enough for ordinary use; pkg/engine, pkg/pipeline, pkg/pool and
// pkg/jsonbridge stay available directly for anyone who needs the
// lower-level pieces.
package asynchttp

import (
	"context"

	"github.com/teaberrycow/asynchttp/pkg/body"
	"github.com/teaberrycow/asynchttp/pkg/client"
	"github.com/teaberrycow/asynchttp/pkg/engine"
	"github.com/teaberrycow/asynchttp/pkg/errors"
	"github.com/teaberrycow/asynchttp/pkg/jsonbridge"
	"github.com/teaberrycow/asynchttp/pkg/properties"
	"github.com/teaberrycow/asynchttp/pkg/urlparse"
)

// Version identifies this module's API, independent of the Go module
// version recorded in go.mod.
const Version = "1.0.0"

// Re-exported types, so `asynchttp.Client`, `asynchttp.Response`, etc.
// read the same as client.go's own top-level aliases.
type (
	// Client executes requests against a pooled set of connections.
	Client = engine.Client

	// Request describes one method/URL/headers/body/Properties tuple
	// the Client will execute, following redirects and retrying a 401
	// per its Properties.
	Request = engine.Request

	// Response is the result of one completed exchange: status line,
	// headers, trailers and a pull-based body stream that must be
	// drained or Closed before its connection returns to the pool.
	Response = client.Response

	// Properties is the copy-on-write configuration bag governing
	// timeouts, the connection pool, proxying, TLS and redirect/retry
	// behavior.
	Properties = properties.Properties

	// ProxyConfig configures the upstream proxy a Client dials through.
	ProxyConfig = properties.ProxyConfig

	// TLSConfig configures the TLS handshake for https:// requests.
	TLSConfig = properties.TLSConfig

	// Body is a request payload: a fixed in-memory or file-backed
	// buffer, or a lazily-pulled/pushed chunked stream.
	Body = body.Body

	// URL is a parsed request target.
	URL = urlparse.URL

	// Error is the structured error type every failure in this module
	// surfaces as; Kind narrows it to one of a closed taxonomy.
	Error = errors.Error

	// Kind classifies an Error: parse, protocol, constraint, timeout,
	// connection, TLS, proxy, and so on.
	Kind = errors.Kind

	// Decoder streams a JSON value straight into a Go struct/map/slice
	// without an intermediate map[string]interface{}.
	Decoder = jsonbridge.Decoder

	// Encoder streams a Go struct/map/slice out as JSON.
	Encoder = jsonbridge.Encoder

	// DecodeOptions configures a Decoder: unknown-field strictness and
	// a per-decode memory budget.
	DecodeOptions = jsonbridge.DecodeOptions

	// EncodeOptions configures an Encoder: empty-field omission and an
	// explicit exclusion set.
	EncodeOptions = jsonbridge.EncodeOptions

	// ArrayCursor streams a JSON array of T one element at a time from
	// a Response body, instead of decoding the whole array up front.
	ArrayCursor[T any] = jsonbridge.ArrayCursor[T]
)

// Defaults returns the baseline Properties every NewClient starts from.
func Defaults() Properties {
	return properties.Defaults()
}

// ParseProxyURL parses scheme://[user[:pass]@]host[:port] into a
// ProxyConfig. Supported schemes are http, https and socks5.
func ParseProxyURL(proxyURL string) (ProxyConfig, error) {
	return properties.ParseProxyURL(proxyURL)
}

// NewClient builds a Client with its own connection pool, sized from
// defaults, running requests on a worker pool of the given concurrency.
func NewClient(defaults Properties, concurrency int) *Client {
	return engine.NewClient(defaults, concurrency)
}

// NewArrayCursor wraps a Response's body stream so its JSON array is
// consumed one element of T at a time.
func NewArrayCursor[T any](resp *Response, opts DecodeOptions) *ArrayCursor[T] {
	return jsonbridge.NewArrayCursor[T](resp.BodyStream, opts)
}

// Get is a convenience wrapper around Client.NewRequest + Client.Do for
// the common case of an unconditional GET with no body.
func Get(ctx context.Context, c *Client, rawURL string) (*Response, error) {
	req, err := c.NewRequest("GET", rawURL)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// IsTimeoutError reports whether err is (or wraps) a timeout.
func IsTimeoutError(err error) bool {
	return errors.IsTimeoutError(err)
}

// IsCanceled reports whether err is (or wraps) a cancellation.
func IsCanceled(err error) bool {
	return errors.IsCanceled(err)
}

// GetKind returns err's Kind, or "" if err isn't an *Error.
func GetKind(err error) Kind {
	return errors.GetKind(err)
}
