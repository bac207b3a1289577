package sshterminal

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/sshdeck/internal/sshtest"
	"golang.org/x/crypto/ssh"
)

func newTestClient(t *testing.T) (*ssh.Client, *sshtest.Server) {
	t.Helper()
	srv := sshtest.NewServer(t)
	cfg := &ssh.ClientConfig{
		User:            sshtest.User,
		Auth:            []ssh.AuthMethod{ssh.Password(sshtest.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	client, err := ssh.Dial("tcp", srv.Addr, cfg)
	if err != nil {
		t.Fatalf("dial SSH server: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, srv
}

// readUntil reads from r until the accumulated output contains target or the
// timeout expires.
func readUntil(t *testing.T, r io.Reader, target string, timeout time.Duration) string {
	t.Helper()
	type chunk struct {
		b   []byte
		err error
	}
	ch := make(chan chunk)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			select {
			case ch <- chunk{append([]byte(nil), buf[:n]...), err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	deadline := time.After(timeout)
	var acc string
	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got: %q", target, acc)
		case c := <-ch:
			acc += string(c.b)
			if strings.Contains(acc, target) {
				return acc
			}
			if c.err != nil {
				t.Fatalf("read error waiting for %q: %v, accumulated: %q", target, c.err, acc)
			}
		}
	}
}

func TestOpen_RequestsXtermPty(t *testing.T) {
	client, srv := newTestClient(t)

	term, err := Open(client, 0, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer term.End()

	readUntil(t, term, sshtest.Banner, 3*time.Second)
	if got := srv.PtyTerm(); got != Term {
		t.Errorf("pty TERM = %q, want %q", got, Term)
	}
}

func TestTerminal_InputOutput(t *testing.T) {
	client, _ := newTestClient(t)
	term, err := Open(client, 80, 24)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer term.End()

	readUntil(t, term, sshtest.Banner, 3*time.Second)
	if _, err := term.Write([]byte("ls -la\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readUntil(t, term, "echo:ls -la", 3*time.Second)

	if !bytes.Contains(term.Scrollback(), []byte("echo:ls -la")) {
		t.Errorf("scrollback missing echoed input: %q", term.Scrollback())
	}
}

func TestTerminal_AttachSeparatesHistoryFromStream(t *testing.T) {
	client, _ := newTestClient(t)
	term, err := Open(client, 80, 24)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer term.End()

	chunks := make(chan string, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			if _, err := term.ReadTo(buf, func(p []byte) { chunks <- string(p) }); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		term.End()
		wg.Wait()
	})

	collect := func(target string) string {
		t.Helper()
		deadline := time.After(3 * time.Second)
		var acc string
		for !strings.Contains(acc, target) {
			select {
			case c := <-chunks:
				acc += c
			case <-deadline:
				t.Fatalf("timeout waiting for %q, got %q", target, acc)
			}
		}
		return acc
	}
	collect(sshtest.Banner)

	history := term.Attach(func() {
		if _, err := term.Write([]byte("ls\r")); err != nil {
			t.Errorf("Write: %v", err)
		}
		// The echo arrives while attaching and must wait for the lock.
		time.Sleep(200 * time.Millisecond)
		select {
		case c := <-chunks:
			t.Errorf("output %q emitted during Attach", c)
		default:
		}
	})

	if !bytes.Contains(history, []byte(sshtest.Banner)) {
		t.Errorf("history missing banner: %q", history)
	}
	if bytes.Contains(history, []byte("echo:")) {
		t.Errorf("history contains output recorded after the snapshot: %q", history)
	}
	collect("echo:ls")
	if !bytes.Contains(term.Scrollback(), []byte("echo:ls")) {
		t.Errorf("scrollback missing echo: %q", term.Scrollback())
	}
}

func TestTerminal_ResizeSendsRowsAndCols(t *testing.T) {
	client, srv := newTestClient(t)
	term, err := Open(client, 80, 24)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer term.End()
	readUntil(t, term, sshtest.Banner, 3*time.Second)

	if err := term.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	readUntil(t, term, "resize:120x40", 3*time.Second)

	resizes := srv.Resizes()
	if len(resizes) != 1 || resizes[0] != (sshtest.Resize{Cols: 120, Rows: 40}) {
		t.Errorf("server saw resizes %+v", resizes)
	}
}

func TestTerminal_ResizeRejectsBadSizes(t *testing.T) {
	client, _ := newTestClient(t)
	term, err := Open(client, 80, 24)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer term.End()

	for _, sz := range [][2]int{{0, 24}, {80, -1}, {MaxResizeCols + 1, 24}, {80, MaxResizeRows + 1}} {
		if err := term.Resize(sz[0], sz[1]); err == nil {
			t.Errorf("Resize(%d, %d) should fail", sz[0], sz[1])
		}
	}
}

func TestTerminal_EndIsGracefulAndIdempotent(t *testing.T) {
	client, _ := newTestClient(t)
	term, err := Open(client, 80, 24)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	readUntil(t, term, sshtest.Banner, 3*time.Second)

	if err := term.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := term.End(); err != nil {
		t.Fatalf("second End: %v", err)
	}
	if _, err := term.Write([]byte("x")); !errors.Is(err, ErrEnded) {
		t.Errorf("Write after End = %v, want ErrEnded", err)
	}
	if err := term.Resize(100, 30); !errors.Is(err, ErrEnded) {
		t.Errorf("Resize after End = %v, want ErrEnded", err)
	}

	// The stdout relay drains to EOF.
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, term)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stdout did not reach EOF after End")
	}

	// The client itself stays usable.
	if _, err := Open(client, 80, 24); err != nil {
		t.Errorf("Open after End: %v", err)
	}
}

func TestTerminal_RemoteExitEndsStdout(t *testing.T) {
	client, _ := newTestClient(t)
	term, err := Open(client, 80, 24)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer term.End()
	readUntil(t, term, sshtest.Banner, 3*time.Second)

	term.Write([]byte("exit\r"))
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, term)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stdout did not close after remote exit")
	}
}
