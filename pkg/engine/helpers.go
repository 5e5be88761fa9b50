package engine

import (
	"encoding/base64"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/teaberrycow/asynchttp/pkg/body"
	"github.com/teaberrycow/asynchttp/pkg/constants"
	"github.com/teaberrycow/asynchttp/pkg/errors"
	"github.com/teaberrycow/asynchttp/pkg/pipeline"
	"github.com/teaberrycow/asynchttp/pkg/properties"
	"github.com/teaberrycow/asynchttp/pkg/urlparse"
)

const (
	maxHeaderNameBytes  = 256
	maxHeaderValueBytes = 4096
	maxHeaderLines      = 256
)

// buildRequestHeaders merges client/request headers, injects Host if
// absent, and injects Accept-Encoding unless compression is disabled.
func buildRequestHeaders(u *urlparse.URL, perRequest map[string]string, props properties.Properties, noBody bool) pipeline.Headers {
	h := pipeline.NewHeaders()
	for k, v := range props.MergedHeaders(perRequest) {
		h.Set(k, v)
	}
	if h.Get("Host") == "" {
		if u.Port == u.Scheme.DefaultPort() {
			h.Set("Host", u.Host)
		} else {
			h.Set("Host", u.Endpoint())
		}
	}
	if !props.DisableCompression && h.Get("Accept-Encoding") == "" {
		h.Set("Accept-Encoding", "gzip, deflate")
	}
	if noBody && h.Get("Content-Length") == "" {
		h.Set("Content-Length", "0")
	}
	return h
}

// requestTarget builds "path" or "path?query" for the request line,
// percent-encoding any extra query arguments on top of the URL's
// already-parsed RawQuery.
func requestTarget(u *urlparse.URL, args map[string]string) string {
	query := u.RawQuery
	if len(args) > 0 {
		var b strings.Builder
		b.WriteString(query)
		first := query == ""
		for k, v := range args {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(urlparse.EncodeQueryComponent(k))
			b.WriteByte('=')
			b.WriteString(urlparse.EncodeQueryComponent(v))
		}
		query = b.String()
	}
	if query == "" {
		return u.Path
	}
	return u.Path + "?" + query
}

// writeBody drains b into w according to its variant: a single Write
// for the fixed-length kinds, a read loop for FixedFile, a pull loop
// for ChunkedLazyPull, or a direct handoff for ChunkedLazyPush.
func writeBody(w pipeline.Writer, b *body.Body) error {
	switch b.Kind() {
	case body.KindFixedString:
		_, err := w.Write(b.FixedBytes())
		return err
	case body.KindFixedFile:
		buf := make([]byte, 65536)
		r := b.FileReader()
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				return errors.NewIOError("reading body file", rerr)
			}
		}
	case body.KindChunkedLazyPull:
		for {
			data, more, err := b.Pull()
			if err != nil {
				return err
			}
			if len(data) > 0 {
				if _, werr := w.Write(data); werr != nil {
					return werr
				}
			}
			if !more {
				return nil
			}
		}
	case body.KindChunkedLazyPush:
		return b.Push(w)
	default:
		return errors.NewValidationError("unknown body kind")
	}
}

// parseStatusLine enforces "HTTP/1.1 <3-digit code> <phrase>"; any
// other version is a ProtocolError.
func parseStatusLine(lr *pipeline.LineReader) (int, string, error) {
	line, err := lr.ReadLine()
	if err != nil {
		return 0, "", errors.NewProtocolError("status line", "failed to read status line", err)
	}
	const prefix = "HTTP/1.1 "
	if !strings.HasPrefix(line, prefix) {
		return 0, "", errors.NewProtocolError("status line", "unsupported HTTP version or malformed status line", nil)
	}
	rest := line[len(prefix):]
	if len(rest) < 3 {
		return 0, "", errors.NewParseError("status line", "truncated status line", nil)
	}
	code, err := strconv.Atoi(rest[:3])
	if err != nil {
		return 0, "", errors.NewParseError("status line", "invalid status code", err)
	}
	reason := ""
	if len(rest) > 4 {
		reason = rest[4:]
	}
	return code, reason, nil
}

// parseHeaders reads header lines until a blank line, enforcing the
// reader chain's byte/line bounds and folding continuation lines
// (leading space/tab) into the previous value.
func parseHeaders(lr *pipeline.LineReader) (pipeline.Headers, error) {
	h := pipeline.NewHeaders()
	lastKey := ""
	lines := 0
	for {
		line, err := lr.ReadLine()
		if err != nil {
			return nil, errors.NewProtocolError("headers", "failed reading header line", err)
		}
		if line == "" {
			return h, nil
		}
		lines++
		if lines > maxHeaderLines {
			return nil, errors.NewConstraintError("headers", "too many header lines")
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastKey == "" {
				return nil, errors.NewProtocolError("headers", "continuation line with no preceding header", nil)
			}
			v := h[lastKey]
			if len(v) > 0 {
				v[len(v)-1] += " " + strings.TrimSpace(line)
			}
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, errors.NewParseError("headers", "malformed header line", nil)
		}
		name := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		if len(name) > maxHeaderNameBytes {
			return nil, errors.NewConstraintError("headers", "header name too long")
		}
		if len(value) > maxHeaderValueBytes {
			return nil, errors.NewConstraintError("headers", "header value too long")
		}
		h.Add(name, value)
		lastKey = textproto.CanonicalMIMEHeaderKey(name)
	}
}

// readerOptionsFor decides which body-reader variant and decompression
// filter the response calls for, per Transfer-Encoding, Content-Length,
// Content-Encoding, and the HEAD/204/304 no-body cases. A Content-Length
// past constants.MaxContentLength is rejected outright rather than
// handed to the pool to read one frame at a time forever.
func readerOptionsFor(method string, statusCode int, h pipeline.Headers, props properties.Properties) (pipeline.ReaderOptions, error) {
	var opts pipeline.ReaderOptions
	noBody := method == "HEAD" || statusCode == 204 || statusCode == 304 || statusCode < 200
	te := strings.ToLower(h.Get("Transfer-Encoding"))
	cl := h.Get("Content-Length")
	switch {
	case noBody:
		opts.NoBody = true
	case strings.Contains(te, "chunked"):
		opts.Chunked = true
	case cl != "":
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			opts.NoBody = true
			break
		}
		if n > constants.MaxContentLength {
			return pipeline.ReaderOptions{}, errors.NewConstraintError("response", "content-length exceeds maximum allowed size")
		}
		opts.ContentLength = n
	default:
		opts.UntilClose = true
	}
	if !props.DisableCompression && !opts.NoBody {
		switch strings.ToLower(h.Get("Content-Encoding")) {
		case "gzip":
			opts.Decompression = pipeline.DecompressionGzip
		case "deflate":
			opts.Decompression = pipeline.DecompressionDeflate
		}
	}
	return opts, nil
}

// isRedirect reports whether code is one of the redirect statuses the
// engine follows.
func isRedirect(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// redirectMethod implements RFC 7231 §6.4.2-§6.4.4 precisely: 303
// always rewrites to GET with no body; 301/302 rewrite a POST to GET
// and drop the body but preserve any other method verbatim; 307/308
// always preserve both method and body.
func redirectMethod(statusCode int, method string) (newMethod string, dropBody bool) {
	switch statusCode {
	case 303:
		return "GET", true
	case 301, 302:
		if method == "POST" {
			return "GET", true
		}
		return method, false
	default: // 307, 308
		return method, false
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}

func basicAuthValue(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
