package sshtest

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/gluk-w/sshdeck/internal/models"
	"github.com/gluk-w/sshdeck/internal/sshkeys"
	"golang.org/x/crypto/ssh"
)

const (
	// User and Password are accepted by every test server.
	User     = "deploy"
	Password = "s3cret"

	// Banner is written when a shell starts.
	Banner = "welcome\r\n"
)

// ExecResult is the scripted response to an exec request.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitStatus uint32
}

// Resize is one window-change request seen by the server.
type Resize struct {
	Cols, Rows uint32
}

// Server is an SSH server that accepts User/Password or ClientKeyPEM, runs
// an echo shell on pty sessions and answers exec requests from a script.
type Server struct {
	Addr string
	Host string
	Port int

	// ClientKeyPEM is a private key authorized for User.
	ClientKeyPEM string

	ln     net.Listener
	config *ssh.ServerConfig
	done   chan struct{}

	mu      sync.Mutex
	execs   map[string]ExecResult
	resizes []Resize
	ptyTerm string
	conns   map[net.Conn]struct{}
	logins  int
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	_, hostKeyPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := sshkeys.ParsePrivateKey(hostKeyPEM)
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}
	clientPub, clientPriv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	authorized, _, _, _, err := ssh.ParseAuthorizedKey(clientPub)
	if err != nil {
		t.Fatalf("parse client key: %v", err)
	}

	s := &Server{
		ClientKeyPEM: string(clientPriv),
		execs:        make(map[string]ExecResult),
		conns:        make(map[net.Conn]struct{}),
		done:         make(chan struct{}),
	}
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if conn.User() == User && string(pass) == Password {
				s.countLogin()
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() == User && ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorized) {
				s.countLogin()
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	s.config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.ln = ln
	s.Addr = ln.Addr().String()
	host, port, _ := net.SplitHostPort(s.Addr)
	s.Host = host
	s.Port, _ = strconv.Atoi(port)

	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Descriptor returns a server record pointing at s with password auth.
func (s *Server) Descriptor(id string) models.Server {
	return models.Server{
		ID:       id,
		Name:     id,
		Host:     s.Host,
		Port:     s.Port,
		Username: User,
		Password: Password,
	}
}

// HandleExec scripts the response for an exact command string. Unscripted
// commands fail with exit status 127.
func (s *Server) HandleExec(command string, res ExecResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[command] = res
}

// Resizes returns the window-change requests seen so far.
func (s *Server) Resizes() []Resize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Resize(nil), s.resizes...)
}

// PtyTerm returns the TERM value from the last pty-req.
func (s *Server) PtyTerm() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptyTerm
}

// Logins returns the number of successful authentications.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// DropConnections closes every open client connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	s.ln.Close()
	<-s.done
	s.DropConnections()
}

func (s *Server) countLogin() {
	s.mu.Lock()
	s.logins++
	s.mu.Unlock()
}

func (s *Server) serve() {
	defer close(s.done)
	for {
		netConn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[netConn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(netConn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer func() {
		netConn.Close()
		s.mu.Lock()
		delete(s.conns, netConn)
		s.mu.Unlock()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			if len(req.Payload) >= 4 {
				n := binary.BigEndian.Uint32(req.Payload[:4])
				if int(4+n) <= len(req.Payload) {
					s.mu.Lock()
					s.ptyTerm = string(req.Payload[4 : 4+n])
					s.mu.Unlock()
				}
			}
			req.Reply(true, nil)

		case "window-change":
			if len(req.Payload) >= 8 {
				r := Resize{
					Cols: binary.BigEndian.Uint32(req.Payload[0:4]),
					Rows: binary.BigEndian.Uint32(req.Payload[4:8]),
				}
				s.mu.Lock()
				s.resizes = append(s.resizes, r)
				s.mu.Unlock()
				fmt.Fprintf(ch, "resize:%dx%d\r\n", r.Cols, r.Rows)
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			req.Reply(true, nil)
			ch.Write([]byte(Banner))
			go echo(ch)

		case "exec":
			req.Reply(true, nil)
			s.runExec(ch, req.Payload)
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runExec(ch ssh.Channel, payload []byte) {
	var cmd string
	if len(payload) >= 4 {
		n := binary.BigEndian.Uint32(payload[:4])
		if int(4+n) <= len(payload) {
			cmd = string(payload[4 : 4+n])
		}
	}

	s.mu.Lock()
	res, ok := s.execs[cmd]
	s.mu.Unlock()
	if !ok {
		res = ExecResult{Stderr: "sh: " + cmd + ": command not found\n", ExitStatus: 127}
	}

	if res.Stdout != "" {
		ch.Write([]byte(res.Stdout))
	}
	if res.Stderr != "" {
		ch.Stderr().Write([]byte(res.Stderr))
	}
	status := make([]byte, 4)
	binary.BigEndian.PutUint32(status, res.ExitStatus)
	ch.SendRequest("exit-status", false, status)
}

// echo writes input back prefixed with "echo:" until the channel closes.
// A lone "exit\r" ends the shell.
func echo(ch ssh.Channel) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if string(buf[:n]) == "exit\r" {
				ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
				ch.Close()
				return
			}
			ch.Write([]byte("echo:"))
			ch.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
