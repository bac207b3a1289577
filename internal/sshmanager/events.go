package sshmanager

import (
	"log"
	"time"

	"github.com/gluk-w/sshdeck/internal/logutil"
)

// ConnectionStatus is the state carried by a StatusEvent.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// TerminalDataEvent carries a chunk of shell output for one identity.
type TerminalDataEvent struct {
	Identity string `json:"identity"`
	Data     []byte `json:"data"`
}

// StatusEvent reports a connection state change for one identity.
type StatusEvent struct {
	Identity  string           `json:"identity"`
	ServerID  string           `json:"serverId"`
	Status    ConnectionStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// maxEventsPerIdentity bounds the status history kept per identity.
const maxEventsPerIdentity = 100

// OnTerminalData registers fn for shell output of every identity. fn runs on
// the session's relay goroutine and should not block for long.
func (m *Manager) OnTerminalData(fn func(TerminalDataEvent)) (unsubscribe func()) {
	return m.dataBus.Subscribe(fn)
}

// SubscribeTerminal registers fn for shell output of one identity.
func (m *Manager) SubscribeTerminal(identity string, fn func(data []byte)) (unsubscribe func()) {
	return m.dataBus.Subscribe(func(e TerminalDataEvent) {
		if e.Identity == identity {
			fn(e.Data)
		}
	})
}

// OnStatusChange registers fn for connection status changes.
func (m *Manager) OnStatusChange(fn func(StatusEvent)) (unsubscribe func()) {
	return m.statusBus.Subscribe(fn)
}

// History returns the recorded status events for identity, oldest first.
func (m *Manager) History(identity string) []StatusEvent {
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	events := m.history[identity]
	out := make([]StatusEvent, len(events))
	copy(out, events)
	return out
}

func (m *Manager) emitStatus(identity, serverID string, status ConnectionStatus, errMsg string) {
	event := StatusEvent{
		Identity:  identity,
		ServerID:  serverID,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now(),
	}

	m.historyMu.Lock()
	events := append(m.history[identity], event)
	if len(events) > maxEventsPerIdentity {
		events = events[len(events)-maxEventsPerIdentity:]
	}
	m.history[identity] = events
	m.historyMu.Unlock()

	if errMsg != "" {
		log.Printf("[ssh] event %s/%s: %s", logutil.SanitizeForLog(identity), status, logutil.SanitizeForLog(errMsg))
	} else {
		log.Printf("[ssh] event %s/%s", logutil.SanitizeForLog(identity), status)
	}
	m.statusBus.Publish(event)
}
