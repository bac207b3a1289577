package proxytunnel

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/models"
)

// DialFunc opens the TCP stream to the proxy itself.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Negotiator establishes tunnels through proxies. The handshake has no
// timeout of its own; cancel ctx to abandon it.
type Negotiator struct {
	dial DialFunc
}

// New returns a Negotiator that dials proxies with a plain net.Dialer.
func New() *Negotiator {
	d := &net.Dialer{}
	return &Negotiator{dial: d.DialContext}
}

// NewWithDialer returns a Negotiator using dial to reach proxies.
func NewWithDialer(dial DialFunc) *Negotiator {
	return &Negotiator{dial: dial}
}

// Negotiate connects to proxy and asks it to open a stream to
// targetHost:targetPort. On success the returned conn is positioned at the
// first byte sent by the target. On any failure the proxy socket is closed.
func (n *Negotiator) Negotiate(ctx context.Context, proxy models.Proxy, targetHost string, targetPort int) (net.Conn, error) {
	switch proxy.Type {
	case models.ProxySOCKS5, models.ProxyHTTP:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, proxy.Type)
	}

	addr := proxy.Addr()
	conn, err := n.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}

	// Unblock handshake reads if the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	var tunnel net.Conn
	switch proxy.Type {
	case models.ProxySOCKS5:
		h := &socks5Handshake{conn: conn, proxy: proxy, host: targetHost, port: targetPort}
		err = h.run()
		tunnel = conn
	case models.ProxyHTTP:
		tunnel, err = negotiateHTTP(conn, proxy, targetHost, targetPort)
	}

	if !stop() {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	}
	if err != nil {
		conn.Close()
		log.Printf("[proxy] %s via %s to %s:%d failed: %v", proxy.Type, addr,
			logutil.SanitizeForLog(targetHost), targetPort, err)
		return nil, err
	}

	log.Printf("[proxy] %s tunnel via %s to %s:%d established", proxy.Type, addr,
		logutil.SanitizeForLog(targetHost), targetPort)
	return tunnel, nil
}

// Test checks that proxy can reach targetHost:targetPort, closing the tunnel
// straight away.
func (n *Negotiator) Test(ctx context.Context, proxy models.Proxy, targetHost string, targetPort int) error {
	conn, err := n.Negotiate(ctx, proxy, targetHost, targetPort)
	if err != nil {
		return err
	}
	return conn.Close()
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
