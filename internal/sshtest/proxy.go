package sshtest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gluk-w/sshdeck/internal/models"
)

// SOCKS5Config scripts a SOCKS5Proxy. The zero value accepts no-auth
// greetings and relays to the requested target.
type SOCKS5Config struct {
	// GreetingReply replaces the method-selection reply when set.
	GreetingReply []byte
	// ConnectReply is the REP byte of the CONNECT reply (0 = succeeded).
	ConnectReply byte
	// Username and Password enable RFC 1929 authentication.
	Username string
	Password string
}

// ConnectRequest is a CONNECT request as decoded by a mock proxy.
type ConnectRequest struct {
	AddrType byte
	Host     string
	Port     int
	Raw      []byte
}

// SOCKS5Proxy is a minimal SOCKS5 server.
type SOCKS5Proxy struct {
	Host string
	Port int

	cfg  SOCKS5Config
	ln   net.Listener
	mu   sync.Mutex
	reqs []ConnectRequest
}

// NewSOCKS5Proxy starts a proxy that is closed when the test ends.
func NewSOCKS5Proxy(t testing.TB, cfg SOCKS5Config) *SOCKS5Proxy {
	t.Helper()
	ln := listen(t)
	p := &SOCKS5Proxy{cfg: cfg, ln: ln}
	p.Host, p.Port = splitAddr(ln.Addr().String())
	go acceptLoop(ln, p.handle)
	t.Cleanup(func() { ln.Close() })
	return p
}

// Proxy returns an enabled socks5 proxy record for p.
func (p *SOCKS5Proxy) Proxy(id string) models.Proxy {
	return models.Proxy{
		ID: id, Name: id, Type: models.ProxySOCKS5,
		Host: p.Host, Port: p.Port,
		Username: p.cfg.Username, Password: p.cfg.Password,
		Enabled: true,
	}
}

// Requests returns the CONNECT requests received so far.
func (p *SOCKS5Proxy) Requests() []ConnectRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectRequest(nil), p.reqs...)
}

func (p *SOCKS5Proxy) handle(conn net.Conn) {
	defer conn.Close()

	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil || head[0] != 0x05 {
		return
	}
	methods := make([]byte, head[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}

	if p.cfg.GreetingReply != nil {
		conn.Write(p.cfg.GreetingReply)
		if len(p.cfg.GreetingReply) != 2 || p.cfg.GreetingReply[1] != 0x00 {
			return
		}
	} else if p.cfg.Username != "" {
		conn.Write([]byte{0x05, 0x02})
		if !p.authenticate(conn) {
			return
		}
	} else {
		conn.Write([]byte{0x05, 0x00})
	}

	req, err := readSOCKSRequest(conn)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	if p.cfg.ConnectReply != 0x00 {
		conn.Write([]byte{0x05, p.cfg.ConnectReply, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}

	target, err := net.Dial("tcp", net.JoinHostPort(req.Host, strconv.Itoa(req.Port)))
	if err != nil {
		conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer target.Close()

	// Bound address 127.0.0.1:1080.
	conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0x04, 0x38})
	relay(conn, target)
}

func (p *SOCKS5Proxy) authenticate(conn net.Conn) bool {
	ver := make([]byte, 2)
	if _, err := io.ReadFull(conn, ver); err != nil {
		return false
	}
	user := make([]byte, ver[1])
	if _, err := io.ReadFull(conn, user); err != nil {
		return false
	}
	plen := make([]byte, 1)
	if _, err := io.ReadFull(conn, plen); err != nil {
		return false
	}
	pass := make([]byte, plen[0])
	if _, err := io.ReadFull(conn, pass); err != nil {
		return false
	}
	if string(user) != p.cfg.Username || string(pass) != p.cfg.Password {
		conn.Write([]byte{0x01, 0x01})
		return false
	}
	conn.Write([]byte{0x01, 0x00})
	return true
}

func readSOCKSRequest(conn net.Conn) (ConnectRequest, error) {
	var req ConnectRequest
	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil {
		return req, err
	}
	req.AddrType = head[3]
	raw := append([]byte(nil), head...)

	switch head[3] {
	case 0x01:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return req, err
		}
		raw = append(raw, ip...)
		req.Host = net.IP(ip).String()
	case 0x03:
		l := make([]byte, 1)
		if _, err := io.ReadFull(conn, l); err != nil {
			return req, err
		}
		name := make([]byte, l[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return req, err
		}
		raw = append(raw, l[0])
		raw = append(raw, name...)
		req.Host = string(name)
	default:
		return req, fmt.Errorf("unsupported address type %d", head[3])
	}

	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		return req, err
	}
	req.Raw = append(raw, port...)
	req.Port = int(binary.BigEndian.Uint16(port))
	return req, nil
}

// HTTPProxy is a minimal HTTP CONNECT proxy.
type HTTPProxy struct {
	Host string
	Port int

	statusLine string
	username   string
	password   string

	ln   net.Listener
	mu   sync.Mutex
	reqs []string
}

// HTTPConfig scripts an HTTPProxy.
type HTTPConfig struct {
	// StatusLine replaces "HTTP/1.1 200 Connection established". Any line
	// without "200" is sent as a refusal.
	StatusLine string
	Username   string
	Password   string
}

// NewHTTPProxy starts a proxy that is closed when the test ends.
func NewHTTPProxy(t testing.TB, cfg HTTPConfig) *HTTPProxy {
	t.Helper()
	ln := listen(t)
	p := &HTTPProxy{
		statusLine: cfg.StatusLine,
		username:   cfg.Username,
		password:   cfg.Password,
		ln:         ln,
	}
	if p.statusLine == "" {
		p.statusLine = "HTTP/1.1 200 Connection established"
	}
	p.Host, p.Port = splitAddr(ln.Addr().String())
	go acceptLoop(ln, p.handle)
	t.Cleanup(func() { ln.Close() })
	return p
}

// Proxy returns an enabled http proxy record for p.
func (p *HTTPProxy) Proxy(id string) models.Proxy {
	return models.Proxy{
		ID: id, Name: id, Type: models.ProxyHTTP,
		Host: p.Host, Port: p.Port,
		Username: p.username, Password: p.password,
		Enabled: true,
	}
}

// Requests returns the raw request header blocks received so far.
func (p *HTTPProxy) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.reqs...)
}

func (p *HTTPProxy) handle(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	var head strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		head.WriteString(line)
		if line == "\r\n" {
			break
		}
	}
	raw := head.String()
	p.mu.Lock()
	p.reqs = append(p.reqs, raw)
	p.mu.Unlock()

	fields := strings.Fields(raw)
	if len(fields) < 2 || fields[0] != "CONNECT" {
		io.WriteString(conn, "HTTP/1.1 400 Bad Request\r\n\r\n")
		return
	}
	if !strings.Contains(p.statusLine, "200") {
		io.WriteString(conn, p.statusLine+"\r\nContent-Length: 0\r\n\r\n")
		return
	}

	target, err := net.Dial("tcp", fields[1])
	if err != nil {
		io.WriteString(conn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer target.Close()

	io.WriteString(conn, p.statusLine+"\r\n\r\n")
	relay(&readerConn{Conn: conn, r: br}, target)
}

type readerConn struct {
	net.Conn
	r io.Reader
}

func (c *readerConn) Read(b []byte) (int, error) { return c.r.Read(b) }

// ScriptedListener accepts connections, reads whatever the client sends
// first, answers with reply verbatim and hangs up.
func ScriptedListener(t testing.TB, reply []byte) (host string, port int) {
	t.Helper()
	ln := listen(t)
	go acceptLoop(ln, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 512)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write(reply)
	})
	t.Cleanup(func() { ln.Close() })
	return splitAddr(ln.Addr().String())
}

func listen(t testing.TB) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func acceptLoop(ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handle(conn)
	}
}

func splitAddr(addr string) (string, int) {
	host, port, _ := net.SplitHostPort(addr)
	p, _ := strconv.Atoi(port)
	return host, p
}

func relay(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() { io.Copy(a, b); done <- struct{}{} }()
	go func() { io.Copy(b, a); done <- struct{}{} }()
	<-done
}
