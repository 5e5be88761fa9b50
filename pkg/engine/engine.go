// Package engine implements the request/response protocol machine:
// URL-to-endpoint resolution, pooled connection acquisition with
// bounded retry, writer/reader chain construction, redirect and
// basic-auth retry handling, and connection disposition.
package engine

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/teaberrycow/asynchttp/pkg/body"
	"github.com/teaberrycow/asynchttp/pkg/client"
	"github.com/teaberrycow/asynchttp/pkg/errors"
	"github.com/teaberrycow/asynchttp/pkg/pipeline"
	"github.com/teaberrycow/asynchttp/pkg/pool"
	"github.com/teaberrycow/asynchttp/pkg/properties"
	"github.com/teaberrycow/asynchttp/pkg/timing"
	"github.com/teaberrycow/asynchttp/pkg/urlparse"
)

const maxConnectAttempts = 3

// Client owns the connection pool and the executor every request runs
// on, plus the default Properties overlaid by each Request's own.
type Client struct {
	Pool     *pool.Pool
	Executor Executor
	Defaults properties.Properties
}

// NewClient builds a Client with its own connection pool sized from
// defaults and a worker-pool executor of the given concurrency.
func NewClient(defaults properties.Properties, concurrency int) *Client {
	resolved := defaults.Resolved()
	return &Client{
		Pool: pool.New(pool.Config{
			MaxConnections:            resolved.CacheMaxConnections,
			MaxConnectionsPerEndpoint: resolved.CacheMaxConnectionsPerEndpoint,
			TTL:                       resolved.CacheTTL,
			CleanupInterval:           resolved.CacheCleanupInterval,
		}),
		Executor: NewWorkerPoolExecutor(concurrency),
		Defaults: resolved,
	}
}

// Close shuts down the connection pool. It does not close or wait on
// c.Executor, whether NewClient built it or the caller supplied it.
func (c *Client) Close() error {
	return c.Pool.Close()
}

// NewRequest builds a Request whose Properties start from c.Defaults,
// so per-client configuration (timeouts, pool limits, proxy, TLS) is
// inherited unless the caller overrides it with a With* call before
// passing the Request to Do.
func (c *Client) NewRequest(method, rawURL string) (*Request, error) {
	u, err := urlparse.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{Method: method, URL: u, Props: c.Defaults}, nil
}

// Do executes req as one cooperative task on c.Executor and blocks the
// calling goroutine until it completes or ctx is done.
func (c *Client) Do(ctx context.Context, req *Request) (*client.Response, error) {
	type result struct {
		resp *client.Response
		err  error
	}
	done := make(chan result, 1)
	c.Executor.Go(ctx, func(taskCtx context.Context) {
		resp, err := c.run(taskCtx, req)
		done <- result{resp, err}
	})
	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run implements the redirect/basic-auth retry loop around one
// connect-and-exchange attempt.
func (c *Client) run(ctx context.Context, req *Request) (*client.Response, error) {
	props := req.Props.Resolved()

	curURL := req.URL
	method := req.Method
	headers := req.Headers
	reqBody := req.Body
	hopsLeft := props.MaxRedirects
	authRetried := false

	// Whatever reqBody holds at return time is done being read either
	// way: a FixedFile's handle and an EncodeBody's spooled buffer both
	// need releasing once the last attempt (success or failure) is over.
	defer func() {
		if reqBody != nil {
			reqBody.Close()
		}
	}()

	for {
		resp, err := c.connectAndExchange(ctx, method, curURL, headers, req.Args, reqBody, props)
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			if hopsLeft <= 0 {
				resp.Close()
				return nil, errors.NewConstraintError("redirect", "exceeded max_redirects")
			}
			loc := resp.Headers.Get("Location")
			if loc == "" {
				resp.Close()
				return nil, errors.NewProtocolError("redirect", "3xx response missing Location header", nil)
			}
			newURL, perr := urlparse.Parse(loc)
			newMethod, dropBody := redirectMethod(resp.StatusCode, method)
			resp.Close()
			if perr != nil {
				return nil, perr
			}
			hopsLeft--
			curURL, method = newURL, newMethod
			if dropBody {
				if reqBody != nil {
					reqBody.Close()
				}
				reqBody = nil
			} else if reqBody != nil {
				if rerr := reqBody.Reset(); rerr != nil {
					return nil, rerr
				}
			}
			continue
		}

		if resp.StatusCode == 401 && !authRetried && props.BasicAuthUser != "" {
			authRetried = true
			resp.Close()
			headers = cloneHeaders(headers)
			headers["Authorization"] = "Basic " + basicAuthValue(props.BasicAuthUser, props.BasicAuthPass)
			if reqBody != nil {
				if rerr := reqBody.Reset(); rerr != nil {
					return nil, rerr
				}
			}
			continue
		}

		if !resp.IsSuccess() && props.ThrowOnHTTPError {
			httpErr := resp.AsHTTPError()
			resp.Close()
			return nil, httpErr
		}

		return resp, nil
	}
}

// connectAndExchange implements the engine's up-to-3-attempts loop
// over a single endpoint: acquire or dial a connection, run one
// request/response exchange, and retry on a connect/framing failure.
// The final attempt always demands a fresh connection so a silently
// dead cached one can't wedge every retry.
func (c *Client) connectAndExchange(ctx context.Context, method string, u *urlparse.URL, headers, args map[string]string, reqBody *body.Body, props properties.Properties) (*client.Response, error) {
	transport := "plain"
	if u.Scheme == urlparse.SchemeHTTPS {
		transport = "tls"
	}
	if props.Proxy.Type != "" && props.Proxy.Type != "none" {
		transport += ":" + string(props.Proxy.Type)
	}
	key := pool.Key{Endpoint: u.Endpoint(), Transport: transport}

	var lastErr error
	for attempt := 0; attempt < maxConnectAttempts; attempt++ {
		forceFresh := attempt == maxConnectAttempts-1
		conn, meta, reused, err := c.acquireConn(ctx, key, u, props, forceFresh)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := c.exchangeOnce(conn, meta, key, method, u, headers, args, reqBody, props)
		if err != nil {
			if reused {
				c.Pool.Discard(key, conn)
			} else {
				conn.Close()
			}
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, errors.NewFailedToConnectError(u.Host, u.Port, lastErr)
}

// acquireConn returns a usable connection for key: an idle pooled one
// if available and not forceFresh, otherwise a freshly dialed one.
func (c *Client) acquireConn(ctx context.Context, key pool.Key, u *urlparse.URL, props properties.Properties, forceFresh bool) (net.Conn, pool.Metadata, bool, error) {
	if !forceFresh {
		conn, meta, reused, err := c.Pool.Acquire(key)
		if err != nil {
			return nil, pool.Metadata{}, false, err
		}
		if reused {
			return conn, meta, true, nil
		}
	} else {
		if err := c.Pool.AcquireFresh(key); err != nil {
			return nil, pool.Metadata{}, false, err
		}
	}

	conn, meta, err := pool.Dial(ctx, pool.DialOptions{
		Host:        u.Host,
		Port:        u.Port,
		TLS:         u.Scheme == urlparse.SchemeHTTPS,
		Props:       props,
		ConnTimeout: props.ConnectTimeout,
	})
	if err != nil {
		c.Pool.Discard(key, nopConn{})
		return nil, pool.Metadata{}, false, err
	}
	meta.ConnectionID = c.Pool.NextConnectionID()
	c.Pool.RecordCreated()
	return conn, meta, false, nil
}

// nopConn lets acquireConn reuse Pool.Discard's active-count bookkeeping
// on a dial failure without a real socket to close.
type nopConn struct{ net.Conn }

func (nopConn) Close() error { return nil }

// exchangeOnce serializes the request onto conn, parses the response
// line and headers, and builds the reader chain + disposition hook for
// the returned Response. Any error here means conn is unusable and the
// caller must discard it.
//
// pipeline.Writer and pipeline.LineReader renew conn's deadline before
// every individual syscall, so a server trickling one byte just inside
// each deadline never trips either one while the exchange as a whole
// runs forever. guard backstops that with a single timer covering the
// full send+reply budget; a real write or read error cancels it well
// before it would otherwise fire. If guard does fire, the exchange
// fails with an IoTimeoutError.
func (c *Client) exchangeOnce(conn net.Conn, meta pool.Metadata, key pool.Key, method string, u *urlparse.URL, headers, args map[string]string, reqBody *body.Body, props properties.Properties) (resp *client.Response, err error) {
	budget := props.SendTimeout + props.ReplyTimeout
	guard := timing.NewCancelTimer(budget, conn, nil)
	defer func() {
		guard.Cancel()
		if err != nil && guard.Fired() {
			err = errors.NewIOTimeoutError("exchange", budget)
		}
	}()

	w, err := buildWriter(conn, props.SendTimeout, reqBody)
	if err != nil {
		return nil, err
	}

	hdrs := buildRequestHeaders(u, headers, props, reqBody == nil)
	w.SetHeaders(hdrs)

	target := requestTarget(u, props.MergedArgs(args))
	if _, err := w.WriteDirect([]byte(method + " " + target + " HTTP/1.1\r\n")); err != nil {
		return nil, err
	}
	for name, values := range hdrs {
		for _, v := range values {
			if _, err := w.WriteDirect([]byte(name + ": " + v + "\r\n")); err != nil {
				return nil, err
			}
		}
	}
	if _, err := w.WriteDirect([]byte("\r\n")); err != nil {
		return nil, err
	}

	if reqBody != nil {
		if err := writeBody(w, reqBody); err != nil {
			return nil, err
		}
	}
	if err := w.Finish(); err != nil {
		return nil, err
	}

	lr := pipeline.NewLineReader(conn, props.ReplyTimeout)
	statusCode, reason, err := parseStatusLine(lr)
	if err != nil {
		return nil, err
	}
	respHeaders, err := parseHeaders(lr)
	if err != nil {
		return nil, err
	}

	rOpts, err := readerOptionsFor(method, statusCode, respHeaders, props)
	if err != nil {
		return nil, err
	}
	reader, trailers, err := pipeline.NewReaderChain(lr, rOpts)
	if err != nil {
		return nil, err
	}

	// The exchange succeeded; conn now outlives exchangeOnce via the
	// disposition hook below, so the guard must never touch it again.
	guard.Cancel()
	guard.Detach()

	resp = &client.Response{
		StatusCode:   statusCode,
		ReasonPhrase: reason,
		Headers:      respHeaders,
		Trailers:     trailers,
		BodyStream:   reader,
		Metadata:     meta,
	}
	shouldClose := strings.EqualFold(respHeaders.Get("Connection"), "close")
	client.AttachDisposition(resp, func(discard bool) {
		if discard || shouldClose {
			c.Pool.Discard(key, conn)
		} else {
			c.Pool.Release(key, conn, meta)
		}
	})
	return resp, nil
}

func buildWriter(conn net.Conn, writeTimeout time.Duration, reqBody *body.Body) (pipeline.Writer, error) {
	opts := pipeline.WriterOptions{}
	if reqBody != nil {
		if n, known := reqBody.KnownLength(); known {
			opts.ContentLength = n
		} else {
			opts.Chunked = true
		}
	}
	return pipeline.NewWriterChain(conn, writeTimeout, opts)
}
