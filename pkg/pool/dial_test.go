package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/teaberrycow/asynchttp/pkg/tlsconfig"
)

func TestBasicAuthRFC2617Vector(t *testing.T) {
	// "Aladdin:open sesame" is the canonical RFC 2617 example.
	got := basicAuth("Aladdin", "open sesame")
	want := "QWxhZGRpbjpvcGVuIHNlc2FtZQ=="
	if got != want {
		t.Fatalf("basicAuth = %q, want %q", got, want)
	}
}

func TestReadConnectResponseParsesStatus(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go server.Write([]byte("HTTP/1.1 200 Connection established\r\n"))

	status, err := readConnectResponse(client)
	if err != nil {
		t.Fatalf("readConnectResponse: %v", err)
	}
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
}

func TestReadConnectResponseRejectsMalformedStatusLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go server.Write([]byte("garbage\r\n"))

	if _, err := readConnectResponse(client); err == nil {
		t.Fatal("expected an error for a malformed CONNECT response")
	}
}

func TestSplitNRespectsLimit(t *testing.T) {
	got := splitN("HTTP/1.1 403 Forbidden by policy", ' ', 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0] != "HTTP/1.1" || got[1] != "403" || got[2] != "Forbidden by policy" {
		t.Fatalf("got %#v", got)
	}
}

func TestTLSVersionNameKnownValues(t *testing.T) {
	cases := map[uint16]string{
		0x0301: "TLS 1.0",
		0x0302: "TLS 1.1",
		0x0303: "TLS 1.2",
		0x0304: "TLS 1.3",
		0x0000: "Unknown",
	}
	for v, want := range cases {
		if got := tlsconfig.GetVersionName(v); got != want {
			t.Fatalf("GetVersionName(%x) = %q, want %q", v, got, want)
		}
	}
}

func TestDialDirectRejectsUnresolvableBindAddr(t *testing.T) {
	_, err := dialDirect(context.Background(), "127.0.0.1:1", 100*time.Millisecond, "not-an-address", false, 0)
	if err == nil {
		t.Fatal("expected an error for an invalid bind address")
	}
}
