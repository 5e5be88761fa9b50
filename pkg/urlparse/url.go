// Package urlparse implements the single-pass URL scanner used to turn
// a request target into an endpoint the connection pool can key on.
// It intentionally stops short of a general URL library: only the
// http/https shape the engine needs is supported.
package urlparse

import (
	"strings"

	"github.com/teaberrycow/asynchttp/pkg/errors"
	"golang.org/x/net/idna"
)

// Scheme is the protocol half of a parsed URL.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// URL is the immutable result of parsing a request target.
type URL struct {
	Scheme   Scheme
	Host     string // normalized, ASCII (IDNA-encoded if needed)
	Port     int
	Path     string
	RawQuery string
}

// DefaultPort returns the scheme's default port.
func (s Scheme) DefaultPort() int {
	if s == SchemeHTTPS {
		return 443
	}
	return 80
}

// Endpoint returns the "host:port" dial target.
func (u *URL) Endpoint() string {
	return u.Host + ":" + portString(u.Port)
}

func portString(p int) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// RequestTarget returns "path" or "path?query" as it belongs on the
// request line (the caller still needs to percent-encode the query
// arguments it adds on top of RawQuery).
func (u *URL) RequestTarget() string {
	if u.RawQuery == "" {
		return u.Path
	}
	return u.Path + "?" + u.RawQuery
}

// Parse performs a single left-to-right scan of raw, splitting scheme,
// authority, path, and query.
func Parse(raw string) (*URL, error) {
	if raw == "" {
		return nil, errors.NewParseError("url", "empty URL", nil)
	}

	rest := raw
	schemeIdx := strings.Index(rest, "://")
	if schemeIdx < 0 {
		return nil, errors.NewParseError("url", "missing protocol (expected http:// or https://)", nil)
	}
	schemeStr := strings.ToLower(rest[:schemeIdx])
	var scheme Scheme
	switch schemeStr {
	case "http":
		scheme = SchemeHTTP
	case "https":
		scheme = SchemeHTTPS
	default:
		return nil, errors.NewParseError("url", "unknown protocol: "+schemeStr, nil)
	}
	rest = rest[schemeIdx+3:]

	// Split authority from path+query: the authority ends at the first
	// '/', '?', or end of string.
	authorityEnd := len(rest)
	for i, c := range rest {
		if c == '/' || c == '?' {
			authorityEnd = i
			break
		}
	}
	authority := rest[:authorityEnd]
	remainder := rest[authorityEnd:]

	if authority == "" {
		return nil, errors.NewParseError("url", "missing host", nil)
	}

	host, port, err := splitHostPort(authority, scheme)
	if err != nil {
		return nil, err
	}

	host, err = normalizeHost(host)
	if err != nil {
		return nil, err
	}

	path := "/"
	query := ""
	if remainder != "" {
		if idx := strings.IndexByte(remainder, '?'); idx >= 0 {
			query = remainder[idx+1:]
			remainder = remainder[:idx]
		}
		if remainder != "" {
			path = remainder
		}
	}

	return &URL{Scheme: scheme, Host: host, Port: port, Path: path, RawQuery: query}, nil
}

func splitHostPort(authority string, scheme Scheme) (string, int, error) {
	// IPv6 literal: [::1]:8080
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", 0, errors.NewParseError("url", "unterminated IPv6 literal", nil)
		}
		host := authority[:end+1]
		rest := authority[end+1:]
		if rest == "" {
			return host, scheme.DefaultPort(), nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, errors.NewParseError("url", "invalid characters after IPv6 literal", nil)
		}
		port, err := atoiPort(rest[1:])
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}

	if idx := strings.LastIndexByte(authority, ':'); idx >= 0 {
		host := authority[:idx]
		port, err := atoiPort(authority[idx+1:])
		if err != nil {
			return "", 0, err
		}
		if host == "" {
			return "", 0, errors.NewParseError("url", "missing host", nil)
		}
		return host, port, nil
	}
	return authority, scheme.DefaultPort(), nil
}

func atoiPort(s string) (int, error) {
	if s == "" {
		return 0, errors.NewParseError("url", "empty port", nil)
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.NewParseError("url", "invalid port: "+s, nil)
		}
		n = n*10 + int(c-'0')
		if n > 65535 {
			return 0, errors.NewParseError("url", "port out of range: "+s, nil)
		}
	}
	if n == 0 {
		return 0, errors.NewParseError("url", "port must be between 1 and 65535", nil)
	}
	return n, nil
}

// normalizeHost IDNA-encodes non-ASCII hostnames so resolution and SNI
// both operate on the ASCII "xn--" form.
func normalizeHost(host string) (string, error) {
	if strings.HasPrefix(host, "[") || isASCII(host) {
		return host, nil
	}
	encoded, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", errors.NewParseError("url", "invalid internationalized host: "+host, err)
	}
	return encoded, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// unreservedExtra is the set of non-alphanumeric bytes that URL
// encoding leaves untouched.
const unreservedExtra = "-_.!~*'()/"

// EncodeQueryComponent percent-encodes s, leaving the unreserved set
// (letters, digits, and unreservedExtra) untouched.
func EncodeQueryComponent(s string) string {
	var needsEncoding bool
	for i := 0; i < len(s); i++ {
		if !isUnreserved(s[i]) {
			needsEncoding = true
			break
		}
	}
	if !needsEncoding {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) * 3)
	const hex = "0123456789ABCDEF"
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

// DecodeQueryComponent reverses EncodeQueryComponent.
func DecodeQueryComponent(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			if i+2 >= len(s) {
				return "", errors.NewParseError("url", "truncated percent-encoding", nil)
			}
			hi, ok1 := hexVal(s[i+1])
			lo, ok2 := hexVal(s[i+2])
			if !ok1 || !ok2 {
				return "", errors.NewParseError("url", "invalid percent-encoding", nil)
			}
			b.WriteByte(byte(hi<<4 | lo))
			i += 2
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	default:
		return strings.IndexByte(unreservedExtra, c) >= 0
	}
}
