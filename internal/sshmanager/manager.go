package sshmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/sshdeck/internal/eventbus"
	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/models"
	"github.com/gluk-w/sshdeck/internal/proxytunnel"
	"github.com/gluk-w/sshdeck/internal/sshterminal"
)

const (
	DefaultReadyTimeout      = 30 * time.Second
	DefaultKeepaliveInterval = 10 * time.Second
)

// relayBufferSize is the read size for shell output.
const relayBufferSize = 32 * 1024

// Tunneler opens a stream to a target through a proxy.
type Tunneler interface {
	Negotiate(ctx context.Context, proxy models.Proxy, targetHost string, targetPort int) (net.Conn, error)
}

// Config tunes a Manager. Zero values take the defaults.
type Config struct {
	ReadyTimeout      time.Duration
	KeepaliveInterval time.Duration
	Tunneler          Tunneler
	// Dial replaces the direct TCP dial; tests use it to inject faults.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Manager connects servers and tracks their sessions.
type Manager struct {
	cfg      Config
	registry *Registry

	dataBus   eventbus.Bus[TerminalDataEvent]
	statusBus eventbus.Bus[StatusEvent]

	historyMu sync.RWMutex
	history   map[string][]StatusEvent

	wg sync.WaitGroup
}

// NewManager creates a Manager with an empty registry.
func NewManager(cfg Config) *Manager {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.Tunneler == nil {
		cfg.Tunneler = proxytunnel.New()
	}
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: cfg.ReadyTimeout}
		cfg.Dial = d.DialContext
	}
	return &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		history:  make(map[string][]StatusEvent),
	}
}

// Registry exposes the session registry for read-only queries.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect opens a session for server under identity (the server id when
// empty), tunnelling through proxy when it is non-nil. An existing session
// under the same identity is replaced and closed.
func (m *Manager) Connect(ctx context.Context, server models.Server, identity string, proxy *models.Proxy) error {
	key := identity
	if key == "" {
		key = server.ID
	}
	addr := server.Addr()
	port := server.Port
	if port == 0 {
		port = 22
	}

	var conn net.Conn
	var err error
	if proxy != nil {
		conn, err = m.cfg.Tunneler.Negotiate(ctx, *proxy, server.Host, port)
		if err != nil {
			return m.fail(key, server.ID, fmt.Errorf("connect %s via proxy %s: %w",
				logutil.SanitizeForLog(addr), logutil.SanitizeForLog(proxy.Name), err))
		}
	} else {
		conn, err = m.cfg.Dial(ctx, "tcp", addr)
		if err != nil {
			return m.fail(key, server.ID, fmt.Errorf("%w: dial %s: %w", ErrTransport, logutil.SanitizeForLog(addr), err))
		}
	}

	clientCfg, err := m.clientConfig(server)
	if err != nil {
		conn.Close()
		return m.fail(key, server.ID, fmt.Errorf("%w: %w", ErrTransport, err))
	}

	// The ready timeout covers the handshake, auth and shell start.
	conn.SetDeadline(time.Now().Add(m.cfg.ReadyTimeout))
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return m.fail(key, server.ID, fmt.Errorf("%w: handshake with %s: %w", ErrTransport, logutil.SanitizeForLog(addr), err))
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	term, err := sshterminal.Open(client, sshterminal.DefaultCols, sshterminal.DefaultRows)
	if err != nil {
		client.Close()
		return m.fail(key, server.ID, fmt.Errorf("%w: %w", ErrShellOpen, err))
	}
	if !stop() {
		client.Close()
		return m.fail(key, server.ID, fmt.Errorf("%w: %w", ErrTransport, ctx.Err()))
	}
	conn.SetDeadline(time.Time{})

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		record: SessionRecord{
			ID:        key,
			ServerID:  server.ID,
			Connected: true,
		},
		client:   client,
		terminal: term,
		cancel:   cancel,
	}
	if prev := m.registry.put(key, s); prev != nil && prev.live() {
		log.Printf("[ssh] replacing existing session %s", logutil.SanitizeForLog(key))
		prev.teardown()
		if prev.record.ServerID != server.ID {
			m.emitStatus(key, prev.record.ServerID, StatusDisconnected, "")
		}
	}

	m.wg.Add(2)
	go m.keepalive(keepaliveCtx, key, client)
	go m.relay(key, s)

	log.Printf("[ssh] connected %s to %s@%s", logutil.SanitizeForLog(key),
		logutil.SanitizeForLog(server.Username), logutil.SanitizeForLog(addr))
	m.emitStatus(key, server.ID, StatusConnected, "")
	return nil
}

// fail records a failed attempt. A live session keeps the identity, so no
// error status is published for it.
func (m *Manager) fail(identity, serverID string, err error) error {
	if !m.registry.putFailure(identity, serverID, err.Error()) {
		log.Printf("[ssh] attempt for %s failed, keeping live session: %v", logutil.SanitizeForLog(identity), err)
		return err
	}
	m.emitStatus(identity, serverID, StatusError, err.Error())
	return err
}

// RecordFailure stores err on the record of identity (the server id when
// empty) without attempting a connection.
func (m *Manager) RecordFailure(serverID, identity string, err error) {
	key := identity
	if key == "" {
		key = serverID
	}
	m.fail(key, serverID, err)
}

func (m *Manager) clientConfig(server models.Server) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	switch {
	case server.PrivateKey != "":
		signer, err := ssh.ParsePrivateKey([]byte(server.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case server.Password != "":
		password := server.Password
		auth = []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}
	default:
		return nil, errors.New("no password or private key configured")
	}

	return &ssh.ClientConfig{
		Config: ssh.Config{
			KeyExchanges: KeyExchanges,
			Ciphers:      Ciphers,
			MACs:         MACs,
		},
		User:            server.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         m.cfg.ReadyTimeout,
	}, nil
}

// relay publishes shell output until the stream ends, then purges the session.
func (m *Manager) relay(identity string, s *session) {
	defer m.wg.Done()

	buf := make([]byte, relayBufferSize)
	publish := func(p []byte) {
		data := make([]byte, len(p))
		copy(data, p)
		m.dataBus.Publish(TerminalDataEvent{Identity: identity, Data: data})
	}
	for {
		_, err := s.terminal.ReadTo(buf, publish)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[ssh] shell stream for %s ended: %v", logutil.SanitizeForLog(identity), err)
			}
			break
		}
	}

	if m.registry.removeIf(identity, s) {
		s.teardown()
		m.emitStatus(identity, s.record.ServerID, StatusDisconnected, "")
	}
}

// keepalive probes the server every KeepaliveInterval. A failed probe closes
// the client, which ends the relay and purges the session.
func (m *Manager) keepalive(ctx context.Context, identity string, client *ssh.Client) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Printf("[ssh] keepalive failed for %s: %v", logutil.SanitizeForLog(identity), err)
				client.Close()
				return
			}
		}
	}
}

// Disconnect ends the session registered under identity (the server id when
// empty). It reports whether a live session was closed.
func (m *Manager) Disconnect(serverID, identity string) bool {
	key := identity
	if key == "" {
		key = serverID
	}
	s := m.registry.remove(key)
	if s == nil || !s.live() {
		return false
	}
	s.teardown()
	log.Printf("[ssh] disconnected %s", logutil.SanitizeForLog(key))
	m.emitStatus(key, s.record.ServerID, StatusDisconnected, "")
	return true
}

// HasActiveConnections reports whether any identity of serverID is connected.
func (m *Manager) HasActiveConnections(serverID string) bool {
	return m.registry.HasActive(serverID)
}

// IsConnected reports whether identity has a live session.
func (m *Manager) IsConnected(identity string) bool {
	_, ok := m.registry.client(identity)
	return ok
}

// Status returns a copy of identity's record.
func (m *Manager) Status(identity string) (SessionRecord, bool) {
	return m.registry.Status(identity)
}

// Connections returns copies of every record.
func (m *Manager) Connections() []SessionRecord {
	return m.registry.Records()
}

// SendTerminalData writes data to identity's shell. It reports false when
// there is no shell.
func (m *Manager) SendTerminalData(identity string, data []byte) bool {
	term, ok := m.registry.terminal(identity)
	if !ok {
		return false
	}
	if _, err := term.Write(data); err != nil {
		log.Printf("[ssh] write to %s failed: %v", logutil.SanitizeForLog(identity), err)
		return false
	}
	return true
}

// ResizeTerminal changes the pty size of identity's shell. It reports false
// when there is no shell or the size is rejected.
func (m *Manager) ResizeTerminal(identity string, cols, rows int) bool {
	term, ok := m.registry.terminal(identity)
	if !ok {
		return false
	}
	if err := term.Resize(cols, rows); err != nil {
		log.Printf("[ssh] resize %s to %dx%d failed: %v", logutil.SanitizeForLog(identity), cols, rows, err)
		return false
	}
	return true
}

// Scrollback returns identity's recent shell output.
func (m *Manager) Scrollback(identity string) ([]byte, bool) {
	term, ok := m.registry.terminal(identity)
	if !ok {
		return nil, false
	}
	return term.Scrollback(), true
}

// AttachTerminal returns identity's scrollback and subscribes fn to its
// shell output in one step, so every chunk lands in exactly one of the two.
// fn must not block.
func (m *Manager) AttachTerminal(identity string, fn func(data []byte)) (history []byte, unsubscribe func(), ok bool) {
	term, ok := m.registry.terminal(identity)
	if !ok {
		return nil, nil, false
	}
	history = term.Attach(func() {
		unsubscribe = m.SubscribeTerminal(identity, fn)
	})
	return history, unsubscribe, true
}

// CloseAll tears down every session and waits for their goroutines.
func (m *Manager) CloseAll() {
	sessions := m.registry.removeAll()
	count := 0
	for _, s := range sessions {
		if s.live() {
			s.teardown()
			m.emitStatus(s.record.ID, s.record.ServerID, StatusDisconnected, "")
			count++
		}
	}
	m.wg.Wait()
	if count > 0 {
		log.Printf("[ssh] closed all %d session(s)", count)
	}
}
