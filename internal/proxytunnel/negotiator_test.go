package proxytunnel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/sshdeck/internal/models"
	"github.com/gluk-w/sshdeck/internal/sshtest"
)

// echoTarget starts a TCP server that echoes every byte back.
func echoTarget(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

func assertEcho(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write through tunnel: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read through tunnel: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("tunnel echoed %q, want %q", buf, "ping")
	}
}

func TestConnectRequest(t *testing.T) {
	tests := []struct {
		host string
		port int
		want []byte
	}{
		{"10.0.0.5", 22, []byte{5, 1, 0, 1, 10, 0, 0, 5, 0, 22}},
		{"db.local", 2222, append(append([]byte{5, 1, 0, 3, 8}, "db.local"...), 0x08, 0xAE)},
		{"::1", 22, append(append([]byte{5, 1, 0, 3, 3}, "::1"...), 0, 22)},
	}
	for _, tt := range tests {
		got, err := connectRequest(tt.host, tt.port)
		if err != nil {
			t.Fatalf("connectRequest(%q): %v", tt.host, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("connectRequest(%q, %d) = % x, want % x", tt.host, tt.port, got, tt.want)
		}
	}

	if _, err := connectRequest(strings.Repeat("a", 256), 22); !errors.Is(err, ErrConnectFailed) {
		t.Errorf("expected ErrConnectFailed for long host, got %v", err)
	}
}

func TestSOCKS5_Success(t *testing.T) {
	host, port := echoTarget(t)
	proxy := sshtest.NewSOCKS5Proxy(t, sshtest.SOCKS5Config{})

	conn, err := New().Negotiate(context.Background(), proxy.Proxy("p1"), host, port)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	defer conn.Close()
	assertEcho(t, conn)

	reqs := proxy.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 CONNECT request, got %d", len(reqs))
	}
	if reqs[0].AddrType != socksAddrIPv4 || reqs[0].Host != host || reqs[0].Port != port {
		t.Errorf("unexpected request %+v", reqs[0])
	}
}

func TestSOCKS5_GreetingRejected(t *testing.T) {
	for _, reply := range [][]byte{{0x05, 0xFF}, {0x04, 0x00}, {0x05, 0x02}} {
		proxy := sshtest.NewSOCKS5Proxy(t, sshtest.SOCKS5Config{GreetingReply: reply})
		_, err := New().Negotiate(context.Background(), proxy.Proxy("p1"), "10.0.0.1", 22)
		if !errors.Is(err, ErrHandshakeFailed) {
			t.Errorf("greeting reply % x: expected ErrHandshakeFailed, got %v", reply, err)
		}
	}
}

func TestSOCKS5_ConnectRefused(t *testing.T) {
	proxy := sshtest.NewSOCKS5Proxy(t, sshtest.SOCKS5Config{ConnectReply: 0x05})
	_, err := New().Negotiate(context.Background(), proxy.Proxy("p1"), "bastion.internal", 2200)
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}

	reqs := proxy.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 CONNECT request, got %d", len(reqs))
	}
	if reqs[0].AddrType != socksAddrDomain || reqs[0].Host != "bastion.internal" || reqs[0].Port != 2200 {
		t.Errorf("unexpected request %+v", reqs[0])
	}
}

func TestSOCKS5_Auth(t *testing.T) {
	host, port := echoTarget(t)
	proxy := sshtest.NewSOCKS5Proxy(t, sshtest.SOCKS5Config{Username: "alice", Password: "pw"})

	conn, err := New().Negotiate(context.Background(), proxy.Proxy("p1"), host, port)
	if err != nil {
		t.Fatalf("Negotiate with credentials: %v", err)
	}
	assertEcho(t, conn)
	conn.Close()

	bad := proxy.Proxy("p1")
	bad.Password = "wrong"
	if _, err := New().Negotiate(context.Background(), bad, host, port); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("expected ErrHandshakeFailed for bad password, got %v", err)
	}

	anon := proxy.Proxy("p1")
	anon.Username, anon.Password = "", ""
	if _, err := New().Negotiate(context.Background(), anon, host, port); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("expected ErrHandshakeFailed without credentials, got %v", err)
	}
}

func TestSOCKS5_TruncatedReply(t *testing.T) {
	h, p := sshtest.ScriptedListener(t, []byte{0x05})
	proxy := models.Proxy{Type: models.ProxySOCKS5, Host: h, Port: p, Enabled: true}
	_, err := New().Negotiate(context.Background(), proxy, "10.0.0.1", 22)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestHTTP_Success(t *testing.T) {
	host, port := echoTarget(t)
	proxy := sshtest.NewHTTPProxy(t, sshtest.HTTPConfig{})

	conn, err := New().Negotiate(context.Background(), proxy.Proxy("h1"), host, port)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	defer conn.Close()
	assertEcho(t, conn)

	target := net.JoinHostPort(host, strconv.Itoa(port))
	want := "CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n\r\n"
	reqs := proxy.Requests()
	if len(reqs) != 1 || reqs[0] != want {
		t.Errorf("request = %q, want %q", reqs, want)
	}
}

func TestHTTP_Refused(t *testing.T) {
	status := "HTTP/1.1 407 Proxy Authentication Required"
	proxy := sshtest.NewHTTPProxy(t, sshtest.HTTPConfig{StatusLine: status})

	_, err := New().Negotiate(context.Background(), proxy.Proxy("h1"), "10.0.0.1", 22)
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), status) {
		t.Errorf("error %q does not carry status line %q", err, status)
	}
}

func TestHTTP_BasicAuth(t *testing.T) {
	host, port := echoTarget(t)
	proxy := sshtest.NewHTTPProxy(t, sshtest.HTTPConfig{Username: "alice", Password: "pw"})

	conn, err := New().Negotiate(context.Background(), proxy.Proxy("h1"), host, port)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	conn.Close()

	reqs := proxy.Requests()
	if len(reqs) != 1 || !strings.Contains(reqs[0], "Proxy-Authorization: Basic YWxpY2U6cHc=\r\n") {
		t.Errorf("missing Proxy-Authorization header in %q", reqs)
	}
}

func TestHTTP_BufferedBanner(t *testing.T) {
	h, p := sshtest.ScriptedListener(t, []byte("HTTP/1.0 200 OK\r\nVia: test\r\n\r\nSSH-2.0-test\r\n"))
	proxy := models.Proxy{Type: models.ProxyHTTP, Host: h, Port: p, Enabled: true}

	conn, err := New().Negotiate(context.Background(), proxy, "10.0.0.1", 22)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	defer conn.Close()

	got, _ := io.ReadAll(conn)
	if string(got) != "SSH-2.0-test\r\n" {
		t.Errorf("read %q after handshake, want banner", got)
	}
}

func TestUnsupportedTypes(t *testing.T) {
	n := NewWithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		t.Fatal("proxy should not be dialed")
		return nil, nil
	})
	for _, typ := range []models.ProxyType{models.ProxySOCKS4, "ftp"} {
		_, err := n.Negotiate(context.Background(), models.Proxy{Type: typ, Host: "127.0.0.1", Port: 1080}, "10.0.0.1", 22)
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("type %q: expected ErrUnsupportedType, got %v", typ, err)
		}
	}
}

func TestDialFailure(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	proxy := models.Proxy{Type: models.ProxySOCKS5, Host: "127.0.0.1", Port: addr.Port}
	_, err := New().Negotiate(context.Background(), proxy, "10.0.0.1", 22)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestContextCancelDuringHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(io.Discard, c)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	proxy := models.Proxy{Type: models.ProxySOCKS5, Host: "127.0.0.1", Port: addr.Port}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = New().Negotiate(ctx, proxy, "10.0.0.1", 22)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport after cancel, got %v", err)
	}
}

func TestTest(t *testing.T) {
	host, port := echoTarget(t)
	proxy := sshtest.NewSOCKS5Proxy(t, sshtest.SOCKS5Config{})
	if err := New().Test(context.Background(), proxy.Proxy("p1"), host, port); err != nil {
		t.Errorf("Test: %v", err)
	}
}
