package sshmanager

import (
	"context"
	"sort"
	"sync"

	"github.com/gluk-w/sshdeck/internal/sshterminal"
	"golang.org/x/crypto/ssh"
)

// SessionRecord is the externally visible state of one identity. Values
// handed out by the registry are copies.
type SessionRecord struct {
	ID          string `json:"id"`
	ServerID    string `json:"serverId"`
	Connected   bool   `json:"connected"`
	LastCommand string `json:"lastCommand,omitempty"`
	LastOutput  string `json:"lastOutput,omitempty"`
	Error       string `json:"error,omitempty"`
}

// session is a registry entry. client and terminal are nil for records left
// by failed connects.
type session struct {
	record   SessionRecord
	client   *ssh.Client
	terminal *sshterminal.Terminal
	cancel   context.CancelFunc
}

func (s *session) live() bool {
	return s.client != nil
}

// teardown stops keepalive, ends the shell and closes the client.
func (s *session) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.terminal != nil {
		s.terminal.End()
	}
	if s.client != nil {
		s.client.Close()
	}
}

// Registry maps identities to sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

// put stores s under identity and returns the entry it replaced.
func (r *Registry) put(identity string, s *session) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[identity]
	r.sessions[identity] = s
	return prev
}

// putFailure records a failed attempt unless a live session owns identity.
// It reports whether the record was written.
func (r *Registry) putFailure(identity, serverID, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[identity]; ok && cur.live() {
		return false
	}
	r.sessions[identity] = &session{record: SessionRecord{
		ID:       identity,
		ServerID: serverID,
		Error:    errMsg,
	}}
	return true
}

func (r *Registry) get(identity string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

func (r *Registry) remove(identity string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[identity]
	delete(r.sessions, identity)
	return s
}

// removeIf deletes identity only while it still maps to s, so a stale relay
// cannot purge a newer session.
func (r *Registry) removeIf(identity string, s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[identity] != s {
		return false
	}
	delete(r.sessions, identity)
	return true
}

func (r *Registry) removeAll() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.sessions = make(map[string]*session)
	return out
}

func (r *Registry) client(identity string) (*ssh.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	if !ok || !s.live() {
		return nil, false
	}
	return s.client, true
}

func (r *Registry) terminal(identity string) (*sshterminal.Terminal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	if !ok || s.terminal == nil {
		return nil, false
	}
	return s.terminal, true
}

func (r *Registry) recordCommand(identity, command, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[identity]; ok {
		s.record.LastCommand = command
		s.record.LastOutput = output
	}
}

// Status returns a copy of identity's record.
func (r *Registry) Status(identity string) (SessionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	if !ok {
		return SessionRecord{}, false
	}
	return s.record, true
}

// Records returns copies of every record, sorted by identity.
func (r *Registry) Records() []SessionRecord {
	r.mu.RLock()
	out := make([]SessionRecord, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.record)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Identities returns the identities registered for serverID.
func (r *Registry) Identities(serverID string) []string {
	r.mu.RLock()
	var out []string
	for id, s := range r.sessions {
		if s.record.ServerID == serverID {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// HasActive reports whether any connected record belongs to serverID.
func (r *Registry) HasActive(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.record.ServerID == serverID && s.record.Connected {
			return true
		}
	}
	return false
}

// ConnectedIdentity picks a connected identity for serverID, preferring the
// primary identity (equal to the server id).
func (r *Registry) ConnectedIdentity(serverID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[serverID]; ok && s.record.Connected {
		return serverID, true
	}
	best := ""
	for id, s := range r.sessions {
		if s.record.ServerID == serverID && s.record.Connected && (best == "" || id < best) {
			best = id
		}
	}
	return best, best != ""
}

// Len returns the number of records, including failed ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
