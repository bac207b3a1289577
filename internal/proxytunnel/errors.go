package proxytunnel

import "errors"

var (
	// ErrHandshakeFailed means the SOCKS5 greeting or authentication was rejected.
	ErrHandshakeFailed = errors.New("proxy handshake failed")
	// ErrConnectFailed means the proxy refused to connect to the target.
	ErrConnectFailed = errors.New("proxy connect failed")
	// ErrTransport wraps socket-level failures talking to the proxy.
	ErrTransport = errors.New("proxy transport error")
	// ErrUnsupportedType is returned for proxy types that cannot be negotiated.
	ErrUnsupportedType = errors.New("unsupported proxy type")
)
