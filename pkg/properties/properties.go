// Package properties implements the copy-on-write configuration bag
// consumed by the request engine and the connection pool. A Properties
// value is built once, then every With* call returns an independent
// copy so a caller can derive a per-request variant without mutating
// the client-wide defaults shared across goroutines.
package properties

import (
	"crypto/tls"
	"net/url"
	"strconv"
	"time"

	"github.com/teaberrycow/asynchttp/pkg/constants"
	"github.com/teaberrycow/asynchttp/pkg/errors"
	"github.com/teaberrycow/asynchttp/pkg/tlsconfig"
)

// ProxyType enumerates the supported upstream proxy protocols.
type ProxyType string

const (
	ProxyNone   ProxyType = "none"
	ProxyHTTP   ProxyType = "http"
	ProxyHTTPS  ProxyType = "https"
	ProxySOCKS5 ProxyType = "socks5"
)

// ProxyConfig mirrors transport.go's ProxyConfig, trimmed to
// the fields an HTTP/HTTPS/SOCKS5 proxy knob actually needs.
type ProxyConfig struct {
	Type     ProxyType
	Host     string
	Port     int
	Username string
	Password string
}

// TLSConfig carries the handshake knobs the pkg/tlsconfig package
// exposes: version bounds, cipher suite selection, and mutual-TLS
// material.
type TLSConfig struct {
	MinVersion       uint16
	MaxVersion       uint16
	CipherSuites     []uint16
	Renegotiation    tls.RenegotiationSupport
	InsecureSkipVerify bool
	ServerName       string
	CustomCACerts    [][]byte
	ClientCertPEM    []byte
	ClientKeyPEM     []byte
}

// Properties is the full configuration bag. Zero value is valid;
// Resolved() fills its zero count, size and duration fields from
// Defaults(), but its booleans and TLS settings stay zero.
type Properties struct {
	MaxRedirects int

	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	ReplyTimeout   time.Duration

	CacheMaxConnections             int
	CacheMaxConnectionsPerEndpoint  int
	CacheTTL                        time.Duration
	CacheCleanupInterval            time.Duration

	ThrowOnHTTPError bool

	DefaultHeaders map[string]string
	DefaultArgs    map[string]string

	Proxy ProxyConfig

	BindLocalAddr string
	TCPNoDelay    bool
	TCPKeepAlive  bool
	TCPKeepAlivePeriod time.Duration

	MaxMemoryConsumption int64

	TLS TLSConfig

	// BasicAuthUser/BasicAuthPass, when non-empty, are used for the
	// engine's single automatic retry on a 401 response.
	BasicAuthUser string
	BasicAuthPass string

	// DisableCompression turns off the Accept-Encoding header the
	// engine would otherwise inject, and skips building a decompression
	// reader even if the server replies compressed anyway.
	DisableCompression bool
}

// Defaults returns the baseline Properties every Client starts from,
// values chosen to match transport.go's DefaultPoolConfig
// and client.DefaultOptions.
func Defaults() Properties {
	return Properties{
		MaxRedirects:                   10,
		ConnectTimeout:                 constants.DefaultConnTimeout,
		SendTimeout:                    constants.DefaultReadTimeout,
		ReplyTimeout:                   constants.DefaultReadTimeout,
		CacheMaxConnections:            256,
		CacheMaxConnectionsPerEndpoint: 8,
		CacheTTL:                       constants.DefaultIdleTimeout,
		CacheCleanupInterval:           constants.CleanupInterval,
		ThrowOnHTTPError:               true,
		TCPNoDelay:                     true,
		TCPKeepAlive:                   true,
		TCPKeepAlivePeriod:             30 * time.Second,
		MaxMemoryConsumption:           64 * 1024 * 1024,
		TLS:                            TLSConfig{MinVersion: tlsconfig.VersionTLS12},
	}
}

// clone performs a deep-enough copy: maps and slices get their own
// backing storage so a With* call never aliases the receiver's.
func (p Properties) clone() Properties {
	out := p
	if p.DefaultHeaders != nil {
		out.DefaultHeaders = make(map[string]string, len(p.DefaultHeaders))
		for k, v := range p.DefaultHeaders {
			out.DefaultHeaders[k] = v
		}
	}
	if p.DefaultArgs != nil {
		out.DefaultArgs = make(map[string]string, len(p.DefaultArgs))
		for k, v := range p.DefaultArgs {
			out.DefaultArgs[k] = v
		}
	}
	if p.TLS.CipherSuites != nil {
		out.TLS.CipherSuites = append([]uint16(nil), p.TLS.CipherSuites...)
	}
	if p.TLS.CustomCACerts != nil {
		out.TLS.CustomCACerts = append([][]byte(nil), p.TLS.CustomCACerts...)
	}
	return out
}

// WithMaxRedirects returns a copy with MaxRedirects set.
func (p Properties) WithMaxRedirects(n int) Properties {
	c := p.clone()
	c.MaxRedirects = n
	return c
}

// WithTimeouts returns a copy with the three per-phase IO deadlines
// set at once, since callers usually tune connect/send/reply together.
func (p Properties) WithTimeouts(connect, send, reply time.Duration) Properties {
	c := p.clone()
	c.ConnectTimeout, c.SendTimeout, c.ReplyTimeout = connect, send, reply
	return c
}

// WithCacheLimits returns a copy with the pool's global and
// per-endpoint caps set.
func (p Properties) WithCacheLimits(global, perEndpoint int) Properties {
	c := p.clone()
	c.CacheMaxConnections, c.CacheMaxConnectionsPerEndpoint = global, perEndpoint
	return c
}

// WithThrowOnHTTPError returns a copy with the HttpError-raising
// behavior toggled.
func (p Properties) WithThrowOnHTTPError(throw bool) Properties {
	c := p.clone()
	c.ThrowOnHTTPError = throw
	return c
}

// WithDefaultHeader returns a copy with one header merged into
// DefaultHeaders, which the engine merges into every outgoing request
// the same way client.go merges ProxyHeaders into a CONNECT request.
func (p Properties) WithDefaultHeader(name, value string) Properties {
	c := p.clone()
	if c.DefaultHeaders == nil {
		c.DefaultHeaders = make(map[string]string, 1)
	}
	c.DefaultHeaders[name] = value
	return c
}

// WithDefaultArg returns a copy with one query argument merged into
// DefaultArgs.
func (p Properties) WithDefaultArg(name, value string) Properties {
	c := p.clone()
	if c.DefaultArgs == nil {
		c.DefaultArgs = make(map[string]string, 1)
	}
	c.DefaultArgs[name] = value
	return c
}

// WithProxy returns a copy configured to dial through proxy.
func (p Properties) WithProxy(proxy ProxyConfig) Properties {
	c := p.clone()
	c.Proxy = proxy
	return c
}

// WithBindLocalAddr returns a copy that dials from the given source
// address, generalizing transport.go's ConnectIP/bind knob.
func (p Properties) WithBindLocalAddr(addr string) Properties {
	c := p.clone()
	c.BindLocalAddr = addr
	return c
}

// WithMaxMemoryConsumption returns a copy with the JSON decoder's byte
// budget set.
func (p Properties) WithMaxMemoryConsumption(n int64) Properties {
	c := p.clone()
	c.MaxMemoryConsumption = n
	return c
}

// WithTLS returns a copy with the TLS handshake configuration
// replaced wholesale.
func (p Properties) WithTLS(tlsCfg TLSConfig) Properties {
	c := p.clone()
	c.TLS = tlsCfg
	return c
}

// WithTLSProfile returns a copy with the TLS version bounds and cipher
// suite set taken from one of pkg/tlsconfig's named profiles (Modern,
// Secure, Compatible, Legacy), instead of callers picking raw
// tls.Version* constants by hand.
func (p Properties) WithTLSProfile(profile tlsconfig.VersionProfile) Properties {
	c := p.clone()
	c.TLS.MinVersion = profile.Min
	c.TLS.MaxVersion = profile.Max
	switch {
	case profile.Min >= tlsconfig.VersionTLS13:
		c.TLS.CipherSuites = nil
	case profile.Min >= tlsconfig.VersionTLS12:
		c.TLS.CipherSuites = append([]uint16(nil), tlsconfig.CipherSuitesTLS12Secure...)
	case profile.Min >= tlsconfig.VersionTLS10:
		c.TLS.CipherSuites = append([]uint16(nil), tlsconfig.CipherSuitesTLS12Compatible...)
	default:
		c.TLS.CipherSuites = append([]uint16(nil), tlsconfig.CipherSuitesLegacy...)
	}
	return c
}

// ParseProxyURL parses a proxy URL of the form
// scheme://[user[:pass]@]host[:port] into a ProxyConfig. Supported
// schemes are http, https and socks5 — SOCKS4 has no authenticated
// variant and no place in properties.ProxyType, so it is rejected here
// rather than silently downgraded.
//
// Default ports when not specified: http 8080, https 443, socks5 1080.
func ParseProxyURL(proxyURL string) (ProxyConfig, error) {
	if proxyURL == "" {
		return ProxyConfig{}, errors.NewValidationError("proxy URL cannot be empty")
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return ProxyConfig{}, errors.NewValidationError("invalid proxy URL: " + err.Error())
	}

	var ptype ProxyType
	switch u.Scheme {
	case "http":
		ptype = ProxyHTTP
	case "https":
		ptype = ProxyHTTPS
	case "socks5":
		ptype = ProxySOCKS5
	case "":
		return ProxyConfig{}, errors.NewValidationError("proxy URL must include a scheme (http://, https://, or socks5://)")
	default:
		return ProxyConfig{}, errors.NewValidationError("unsupported proxy scheme: " + u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return ProxyConfig{}, errors.NewValidationError("proxy URL must include a host")
	}

	port := 0
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return ProxyConfig{}, errors.NewValidationError("invalid proxy port: " + portStr)
		}
	} else {
		switch ptype {
		case ProxyHTTP:
			port = 8080
		case ProxyHTTPS:
			port = 443
		case ProxySOCKS5:
			port = 1080
		}
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	return ProxyConfig{
		Type:     ptype,
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
	}, nil
}

// WithBasicAuth returns a copy configured to retry a 401 response once
// with an Authorization: Basic header built from user/pass.
func (p Properties) WithBasicAuth(user, pass string) Properties {
	c := p.clone()
	c.BasicAuthUser, c.BasicAuthPass = user, pass
	return c
}

// Resolved fills each zero-valued redirect, timeout, pool and memory
// field with its Defaults() counterpart, so a Properties built
// incrementally via With* calls never reaches the engine with a
// nonsensical zero timeout. Boolean fields, TCPKeepAlivePeriod and TLS
// are left as they are.
func (p Properties) Resolved() Properties {
	d := Defaults()
	out := p.clone()
	if out.MaxRedirects == 0 {
		out.MaxRedirects = d.MaxRedirects
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = d.ConnectTimeout
	}
	if out.SendTimeout == 0 {
		out.SendTimeout = d.SendTimeout
	}
	if out.ReplyTimeout == 0 {
		out.ReplyTimeout = d.ReplyTimeout
	}
	if out.CacheMaxConnections == 0 {
		out.CacheMaxConnections = d.CacheMaxConnections
	}
	if out.CacheMaxConnectionsPerEndpoint == 0 {
		out.CacheMaxConnectionsPerEndpoint = d.CacheMaxConnectionsPerEndpoint
	}
	if out.CacheTTL == 0 {
		out.CacheTTL = d.CacheTTL
	}
	if out.CacheCleanupInterval == 0 {
		out.CacheCleanupInterval = d.CacheCleanupInterval
	}
	if out.MaxMemoryConsumption == 0 {
		out.MaxMemoryConsumption = d.MaxMemoryConsumption
	}
	return out
}

// MergedHeaders returns DefaultHeaders overlaid with perRequest,
// perRequest winning on key collisions.
func (p Properties) MergedHeaders(perRequest map[string]string) map[string]string {
	out := make(map[string]string, len(p.DefaultHeaders)+len(perRequest))
	for k, v := range p.DefaultHeaders {
		out[k] = v
	}
	for k, v := range perRequest {
		out[k] = v
	}
	return out
}

// MergedArgs returns DefaultArgs overlaid with perRequest, perRequest
// winning on key collisions.
func (p Properties) MergedArgs(perRequest map[string]string) map[string]string {
	out := make(map[string]string, len(p.DefaultArgs)+len(perRequest))
	for k, v := range p.DefaultArgs {
		out[k] = v
	}
	for k, v := range perRequest {
		out[k] = v
	}
	return out
}
