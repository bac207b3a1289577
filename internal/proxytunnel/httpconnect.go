package proxytunnel

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gluk-w/sshdeck/internal/models"
)

// maxHeaderLines caps the proxy response header block.
const maxHeaderLines = 100

// negotiateHTTP issues a CONNECT request. Any status line containing "200"
// is success; otherwise the status line is returned verbatim in the error.
func negotiateHTTP(conn net.Conn, proxy models.Proxy, host string, port int) (net.Conn, error) {
	target := net.JoinHostPort(host, strconv.Itoa(port))

	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if proxy.HasCredentials() {
		cred := base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		return nil, transportErr("http connect", err)
	}

	br := bufio.NewReader(conn)
	statusLine, err := br.ReadString('\n')
	if err != nil {
		return nil, transportErr("http connect", err)
	}
	status := strings.TrimRight(statusLine, "\r\n")
	if !strings.Contains(status, "200") {
		return nil, fmt.Errorf("%w: %s", ErrConnectFailed, status)
	}

	for i := 0; ; i++ {
		if i >= maxHeaderLines {
			return nil, fmt.Errorf("%w: response headers too long", ErrConnectFailed)
		}
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, transportErr("http connect", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	if br.Buffered() == 0 {
		return conn, nil
	}
	return &bufferedConn{Conn: conn, r: br}, nil
}

// bufferedConn replays bytes read past the header block (an early SSH
// banner, typically) before reading from the socket again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
