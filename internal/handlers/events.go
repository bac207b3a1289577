package handlers

import (
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gluk-w/sshdeck/internal/console"
	"github.com/gluk-w/sshdeck/internal/metrics"
	"github.com/gluk-w/sshdeck/internal/sshmanager"
)

// eventBuffer is how many events may queue for one events client.
const eventBuffer = 256

// Event types pushed on the events stream.
const (
	eventServerStatus     = "server-status-changed"
	eventConnectionStatus = "connection-status-changed"
	eventMetrics          = "metrics-updated"
)

type eventEnvelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventsWS streams server status, connection status and metrics events as
// JSON text frames until the client goes away.
func (h *Handler) EventsWS(w http.ResponseWriter, r *http.Request) {
	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[api] failed to accept events websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	queue := make(chan eventEnvelope, eventBuffer)
	slow := make(chan struct{})
	var slowOnce sync.Once
	push := func(env eventEnvelope) {
		select {
		case queue <- env:
		default:
			slowOnce.Do(func() { close(slow) })
		}
	}

	unsubServer := h.Console.OnServerStatus(func(e console.ServerStatusEvent) {
		push(eventEnvelope{Type: eventServerStatus, Data: e})
	})
	defer unsubServer()
	unsubSession := h.Console.OnSessionStatus(func(e sshmanager.StatusEvent) {
		push(eventEnvelope{Type: eventConnectionStatus, Data: e})
	})
	defer unsubSession()
	unsubMetrics := h.Console.OnMetrics(func(e metrics.UpdateEvent) {
		push(eventEnvelope{Type: eventMetrics, Data: e})
	})
	defer unsubMetrics()

	// Clients only listen; CloseRead answers pings and close frames.
	ctx := clientConn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case <-slow:
			clientConn.Close(websocket.StatusPolicyViolation, "Event buffer overflow")
			return
		case env := <-queue:
			if err := wsjson.Write(ctx, clientConn, env); err != nil {
				return
			}
		}
	}
}
