package sshmanager

import "errors"

var (
	// ErrNotConnected is reported for operations on an identity without a
	// live session.
	ErrNotConnected = errors.New("Not connected to server")
	// ErrTransport wraps dial, handshake and authentication failures.
	ErrTransport = errors.New("ssh transport error")
	// ErrShellOpen means the connection succeeded but the PTY shell could
	// not be started.
	ErrShellOpen = errors.New("failed to open shell")
)
