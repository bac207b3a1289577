package sshterminal

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

const (
	// Term is the TERM value requested for every pty.
	Term = "xterm-256color"

	DefaultCols = 80
	DefaultRows = 24
)

// MaxInputMessageSize is the largest single input message accepted from a
// viewer.
const MaxInputMessageSize = 64 * 1024

// MaxResizeCols and MaxResizeRows bound resize requests.
const (
	MaxResizeCols = 500
	MaxResizeRows = 500
)

// ErrEnded is returned by Write and Resize after End.
var ErrEnded = errors.New("terminal ended")

// Terminal is a PTY-backed login shell.
type Terminal struct {
	session    *ssh.Session
	stdin      io.WriteCloser
	stdout     io.Reader
	scrollback *Scrollback

	// outMu orders recorded output against Attach.
	outMu sync.Mutex

	mu    sync.Mutex
	ended bool
}

// Open starts a login shell on client with a cols x rows pty. Non-positive
// sizes fall back to 80x24.
func Open(client *ssh.Client, cols, rows int) (*Terminal, error) {
	if cols <= 0 || rows <= 0 {
		cols, rows = DefaultCols, DefaultRows
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(Term, rows, cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Terminal{
		session:    session,
		stdin:      stdin,
		stdout:     stdout,
		scrollback: NewScrollback(0),
	}, nil
}

// Read reads shell output, recording it in the scrollback. It returns
// io.EOF once the shell exits or the terminal is ended.
func (t *Terminal) Read(p []byte) (int, error) {
	return t.ReadTo(p, nil)
}

// ReadTo is Read that also passes each chunk to emit. A chunk is recorded
// and emitted as one step with respect to Attach. emit must not retain p.
func (t *Terminal) ReadTo(p []byte, emit func([]byte)) (int, error) {
	n, err := t.stdout.Read(p)
	if n > 0 {
		t.outMu.Lock()
		t.scrollback.Write(p[:n])
		if emit != nil {
			emit(p[:n])
		}
		t.outMu.Unlock()
	}
	return n, err
}

// Attach snapshots the scrollback and calls subscribe before any further
// output is recorded. Output recorded after the snapshot is emitted only
// after subscribe returns. subscribe must not block on shell output.
func (t *Terminal) Attach(subscribe func()) []byte {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	history := t.scrollback.Snapshot()
	subscribe()
	return history
}

// Write sends keystrokes to the shell verbatim.
func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	ended := t.ended
	t.mu.Unlock()
	if ended {
		return 0, ErrEnded
	}
	return t.stdin.Write(p)
}

// Resize changes the pty size. The SSH window-change request carries rows
// before columns.
func (t *Terminal) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > MaxResizeCols || rows > MaxResizeRows {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	t.mu.Lock()
	ended := t.ended
	t.mu.Unlock()
	if ended {
		return ErrEnded
	}
	return t.session.WindowChange(rows, cols)
}

// Scrollback returns the recent output of the shell.
func (t *Terminal) Scrollback() []byte {
	return t.scrollback.Snapshot()
}

// End closes stdin, then the session channel. It is safe to call more than
// once.
func (t *Terminal) End() error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return nil
	}
	t.ended = true
	t.mu.Unlock()

	t.stdin.Close()
	if err := t.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
