package proxytunnel

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/gluk-w/sshdeck/internal/models"
)

const (
	socksVersion = 0x05

	socksMethodNone     = 0x00
	socksMethodPassword = 0x02

	socksCmdConnect = 0x01

	socksAddrIPv4   = 0x01
	socksAddrDomain = 0x03
	socksAddrIPv6   = 0x04

	socksAuthVersion = 0x01
)

type socksState int

const (
	socksGreeting socksState = iota
	socksAuth
	socksRequest
	socksConnected
)

func (s socksState) String() string {
	switch s {
	case socksGreeting:
		return "greeting"
	case socksAuth:
		return "auth"
	case socksRequest:
		return "request"
	case socksConnected:
		return "connected"
	}
	return "unknown"
}

// socks5Handshake walks greeting -> (auth) -> request -> connected.
// Username/password auth is only offered when the proxy has credentials.
type socks5Handshake struct {
	conn  net.Conn
	proxy models.Proxy
	host  string
	port  int
	state socksState
}

func (h *socks5Handshake) run() error {
	for h.state != socksConnected {
		var err error
		switch h.state {
		case socksGreeting:
			err = h.greet()
		case socksAuth:
			err = h.authenticate()
		case socksRequest:
			err = h.request()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *socks5Handshake) greet() error {
	greeting := []byte{socksVersion, 1, socksMethodNone}
	if h.proxy.HasCredentials() {
		greeting = []byte{socksVersion, 2, socksMethodNone, socksMethodPassword}
	}
	if _, err := h.conn.Write(greeting); err != nil {
		return transportErr("socks5 greeting", err)
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(h.conn, reply); err != nil {
		return transportErr("socks5 greeting", err)
	}
	if reply[0] != socksVersion {
		return fmt.Errorf("%w: unexpected reply % x", ErrHandshakeFailed, reply)
	}
	switch {
	case reply[1] == socksMethodNone:
		h.state = socksRequest
	case reply[1] == socksMethodPassword && h.proxy.HasCredentials():
		h.state = socksAuth
	default:
		return fmt.Errorf("%w: unexpected reply % x", ErrHandshakeFailed, reply)
	}
	return nil
}

func (h *socks5Handshake) authenticate() error {
	user, pass := h.proxy.Username, h.proxy.Password
	if len(user) > 255 || len(pass) > 255 {
		return fmt.Errorf("%w: credentials too long", ErrHandshakeFailed)
	}
	msg := make([]byte, 0, 3+len(user)+len(pass))
	msg = append(msg, socksAuthVersion, byte(len(user)))
	msg = append(msg, user...)
	msg = append(msg, byte(len(pass)))
	msg = append(msg, pass...)
	if _, err := h.conn.Write(msg); err != nil {
		return transportErr("socks5 auth", err)
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(h.conn, reply); err != nil {
		return transportErr("socks5 auth", err)
	}
	if reply[0] != socksAuthVersion || reply[1] != 0x00 {
		return fmt.Errorf("%w: authentication rejected", ErrHandshakeFailed)
	}
	h.state = socksRequest
	return nil
}

func (h *socks5Handshake) request() error {
	req, err := connectRequest(h.host, h.port)
	if err != nil {
		return err
	}
	if _, err := h.conn.Write(req); err != nil {
		return transportErr("socks5 connect", err)
	}

	// VER REP first, so a short refusal is reported as a refusal.
	head := make([]byte, 2)
	if _, err := io.ReadFull(h.conn, head); err != nil {
		return transportErr("socks5 connect", err)
	}
	if head[0] != socksVersion || head[1] != 0x00 {
		return fmt.Errorf("%w: reply % x", ErrConnectFailed, head)
	}

	// RSV ATYP, then the bound address which is discarded.
	rest := make([]byte, 2)
	if _, err := io.ReadFull(h.conn, rest); err != nil {
		return transportErr("socks5 connect", err)
	}
	var skip int
	switch rest[1] {
	case socksAddrIPv4:
		skip = net.IPv4len + 2
	case socksAddrIPv6:
		skip = net.IPv6len + 2
	case socksAddrDomain:
		l := make([]byte, 1)
		if _, err := io.ReadFull(h.conn, l); err != nil {
			return transportErr("socks5 connect", err)
		}
		skip = int(l[0]) + 2
	default:
		return fmt.Errorf("%w: bad address type 0x%02x", ErrConnectFailed, rest[1])
	}
	if _, err := io.CopyN(io.Discard, h.conn, int64(skip)); err != nil {
		return transportErr("socks5 connect", err)
	}

	h.state = socksConnected
	return nil
}

// connectRequest builds the CONNECT request. Dotted IPv4 targets use address
// type 1; everything else is sent as a length-prefixed domain.
func connectRequest(host string, port int) ([]byte, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrConnectFailed, port)
	}
	req := []byte{socksVersion, socksCmdConnect, 0x00}
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil && !isIPv6Literal(host) {
		req = append(req, socksAddrIPv4)
		req = append(req, ip.To4()...)
	} else {
		if len(host) == 0 || len(host) > 255 {
			return nil, fmt.Errorf("%w: invalid target host %q", ErrConnectFailed, host)
		}
		req = append(req, socksAddrDomain, byte(len(host)))
		req = append(req, host...)
	}
	return binary.BigEndian.AppendUint16(req, uint16(port)), nil
}

func isIPv6Literal(host string) bool {
	for i := 0; i < len(host); i++ {
		if host[i] == ':' {
			return true
		}
	}
	return false
}
