package pool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"net"
	"strconv"
	"time"

	netproxy "golang.org/x/net/proxy"

	"github.com/teaberrycow/asynchttp/pkg/errors"
	"github.com/teaberrycow/asynchttp/pkg/properties"
	"github.com/teaberrycow/asynchttp/pkg/tlsconfig"
)

// DialOptions carries everything Dial needs to establish one fresh
// connection: the target, the resolved transport kind, and the
// relevant slice of Properties.
type DialOptions struct {
	Host      string
	Port      int
	TLS       bool
	Props     properties.Properties
	ConnTimeout time.Duration
}

// Dial establishes a new connection to opts.Host:opts.Port, routing
// through opts.Props.Proxy if configured, then upgrading to TLS if
// opts.TLS is set. It mirrors transport.go's Transport.Connect minus
// the pool lookup, which the caller (pkg/engine) does separately via
// Pool.Acquire.
func Dial(ctx context.Context, opts DialOptions) (net.Conn, Metadata, error) {
	var meta Metadata

	timeout := opts.ConnTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	targetAddr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	var conn net.Conn
	var err error
	switch opts.Props.Proxy.Type {
	case properties.ProxyNone, "":
		conn, err = dialDirect(ctx, targetAddr, timeout, opts.Props.BindLocalAddr, opts.Props.TCPKeepAlive, opts.Props.TCPKeepAlivePeriod)
		if err != nil {
			return nil, meta, errors.NewConnectionError(opts.Host, opts.Port, err)
		}
	case properties.ProxySOCKS5:
		conn, err = dialViaSOCKS5(opts.Props.Proxy, targetAddr, timeout)
		if err != nil {
			return nil, meta, errors.NewProxyError("socks5", targetAddr, "connect", err)
		}
		meta.ProxyUsed, meta.ProxyType = true, "socks5"
		meta.ProxyAddr = net.JoinHostPort(opts.Props.Proxy.Host, strconv.Itoa(opts.Props.Proxy.Port))
	case properties.ProxyHTTP, properties.ProxyHTTPS:
		conn, err = dialViaHTTPConnect(ctx, opts.Props.Proxy, targetAddr, timeout)
		if err != nil {
			return nil, meta, errors.NewProxyError(string(opts.Props.Proxy.Type), targetAddr, "connect", err)
		}
		meta.ProxyUsed, meta.ProxyType = true, string(opts.Props.Proxy.Type)
		meta.ProxyAddr = net.JoinHostPort(opts.Props.Proxy.Host, strconv.Itoa(opts.Props.Proxy.Port))
	default:
		return nil, meta, errors.NewValidationError("unsupported proxy type: " + string(opts.Props.Proxy.Type))
	}

	if conn.LocalAddr() != nil {
		meta.LocalAddr = conn.LocalAddr().String()
	}
	if conn.RemoteAddr() != nil {
		meta.RemoteAddr = conn.RemoteAddr().String()
	}
	meta.ConnectedIP, _, _ = net.SplitHostPort(targetAddr)
	if p, err := strconv.Atoi(func() string { _, pp, _ := net.SplitHostPort(targetAddr); return pp }()); err == nil {
		meta.ConnectedPort = p
	}

	if opts.TLS {
		tlsConn, tlsMeta, err := upgradeTLS(ctx, conn, opts.Host, timeout, opts.Props.TLS)
		if err != nil {
			conn.Close()
			return nil, meta, errors.NewTLSError(opts.Host, opts.Port, err)
		}
		meta.TLSVersion, meta.TLSCipherSuite, meta.TLSServerName = tlsMeta.TLSVersion, tlsMeta.TLSCipherSuite, tlsMeta.TLSServerName
		return tlsConn, meta, nil
	}
	return conn, meta, nil
}

func dialDirect(ctx context.Context, addr string, timeout time.Duration, bindAddr string, keepAlive bool, keepAlivePeriod time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	if bindAddr != "" {
		local, err := net.ResolveTCPAddr("tcp", bindAddr)
		if err != nil {
			return nil, errors.NewValidationError("invalid bind address: " + bindAddr)
		}
		dialer.LocalAddr = local
	}
	if keepAlive {
		if keepAlivePeriod <= 0 {
			keepAlivePeriod = 30 * time.Second
		}
		dialer.KeepAlive = keepAlivePeriod
	} else {
		dialer.KeepAlive = -1
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// dialViaSOCKS5 routes the dial through golang.org/x/net/proxy's
// SOCKS5 client instead of hand-rolling the protocol.
func dialViaSOCKS5(cfg properties.ProxyConfig, targetAddr string, timeout time.Duration) (net.Conn, error) {
	proxyPort := cfg.Port
	if proxyPort == 0 {
		proxyPort = 1080
	}
	proxyAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(proxyPort))

	var auth *netproxy.Auth
	if cfg.Username != "" {
		auth = &netproxy.Auth{User: cfg.Username, Password: cfg.Password}
	}

	dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return dialer.Dial("tcp", targetAddr)
}

// dialViaHTTPConnect tunnels through an HTTP(S) proxy via the CONNECT
// method, kept close to transport.go's connectViaHTTPProxy shape.
func dialViaHTTPConnect(ctx context.Context, cfg properties.ProxyConfig, targetAddr string, timeout time.Duration) (net.Conn, error) {
	proxyPort := cfg.Port
	if proxyPort == 0 {
		if cfg.Type == properties.ProxyHTTPS {
			proxyPort = 443
		} else {
			proxyPort = 8080
		}
	}
	proxyAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(proxyPort))

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}

	if cfg.Type == properties.ProxyHTTPS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: cfg.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	req := "CONNECT " + targetAddr + " HTTP/1.1\r\nHost: " + targetAddr + "\r\n"
	if cfg.Username != "" {
		req += "Proxy-Authorization: Basic " + basicAuth(cfg.Username, cfg.Password) + "\r\n"
	}
	req += "\r\n"

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(time.Now().Add(timeout))
	status, err := readConnectResponse(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if status < 200 || status >= 300 {
		conn.Close()
		return nil, errors.NewProxyError(string(cfg.Type), proxyAddr, "connect", errors.NewProtocolError("proxy connect", "unexpected CONNECT status "+strconv.Itoa(status), nil))
	}
	return conn, nil
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

func readConnectResponse(conn net.Conn) (int, error) {
	buf := make([]byte, 1)
	var line []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			line = append(line, buf[0])
			if len(line) >= 2 && line[len(line)-2] == '\r' && line[len(line)-1] == '\n' {
				break
			}
		}
		if err != nil {
			return 0, err
		}
	}
	// "HTTP/1.1 200 Connection established\r\n"
	parts := splitN(string(line), ' ', 3)
	if len(parts) < 2 {
		return 0, errors.NewProtocolError("proxy connect", "malformed CONNECT response", nil)
	}
	return strconv.Atoi(parts[1])
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

type tlsMetadata struct {
	TLSVersion     string
	TLSCipherSuite string
	TLSServerName  string
}

func upgradeTLS(ctx context.Context, conn net.Conn, host string, timeout time.Duration, cfg properties.TLSConfig) (net.Conn, tlsMetadata, error) {
	tlsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tlsConfig := &tls.Config{
		MinVersion:         cfg.MinVersion,
		MaxVersion:         cfg.MaxVersion,
		CipherSuites:       cfg.CipherSuites,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Renegotiation:      cfg.Renegotiation,
		NextProtos:         []string{"http/1.1"},
	}
	if tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}
	if cfg.ServerName != "" {
		tlsConfig.ServerName = cfg.ServerName
	} else {
		tlsConfig.ServerName = host
	}
	if len(cfg.CustomCACerts) > 0 {
		pool := x509.NewCertPool()
		for _, pem := range cfg.CustomCACerts {
			pool.AppendCertsFromPEM(pem)
		}
		tlsConfig.RootCAs = pool
	}
	if len(cfg.ClientCertPEM) > 0 && len(cfg.ClientKeyPEM) > 0 {
		cert, err := tls.X509KeyPair(cfg.ClientCertPEM, cfg.ClientKeyPEM)
		if err != nil {
			return nil, tlsMetadata{}, err
		}
		tlsConfig.Certificates = append(tlsConfig.Certificates, cert)
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		return nil, tlsMetadata{}, err
	}
	state := tlsConn.ConnectionState()
	return tlsConn, tlsMetadata{
		TLSVersion:     tlsconfig.GetVersionName(state.Version),
		TLSCipherSuite: tls.CipherSuiteName(state.CipherSuite),
		TLSServerName:  tlsConfig.ServerName,
	}, nil
}
