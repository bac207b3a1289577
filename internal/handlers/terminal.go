package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/sshaudit"
	"github.com/gluk-w/sshdeck/internal/sshmanager"
	"github.com/gluk-w/sshdeck/internal/sshterminal"
	"github.com/go-chi/chi/v5"
)

// terminalOutputBuffer is how many output chunks may queue for a slow
// client before it is disconnected.
const terminalOutputBuffer = 1024

// Close codes sent to terminal clients.
const (
	closeSessionEnded  websocket.StatusCode = 4000
	closeNotConnected  websocket.StatusCode = 4004
	closeSlowConsumer  websocket.StatusCode = 4008
	closeInternalError websocket.StatusCode = 4500
)

type termResizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// TerminalWS attaches a WebSocket to the shell of a connected identity.
// Binary frames are keyboard input, text frames carry JSON control messages
// ({"type":"resize","cols":N,"rows":N}). Shell output is pushed as binary
// frames, starting with the scrollback.
func (h *Handler) TerminalWS(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[api] failed to accept terminal websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	rec, ok := h.Console.Status(identity)
	if !ok || !rec.Connected {
		clientConn.Close(closeNotConnected, "Not connected")
		return
	}
	clientConn.SetReadLimit(1024 * 1024)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	source := sshaudit.ExtractSourceIP(r)
	log.Printf("[console] terminal attached: %s from %s", logutil.SanitizeForLog(identity), source)
	defer log.Printf("[console] terminal detached: %s from %s", logutil.SanitizeForLog(identity), source)

	ended := make(chan struct{})
	var endedOnce sync.Once
	unsubStatus := h.Console.OnSessionStatus(func(e sshmanager.StatusEvent) {
		if e.Identity == identity && e.Status != sshmanager.StatusConnected {
			endedOnce.Do(func() { close(ended) })
		}
	})
	defer unsubStatus()

	out := make(chan []byte, terminalOutputBuffer)
	slow := make(chan struct{})
	var slowOnce sync.Once
	history, unsubData, ok := h.Console.AttachTerminal(identity, func(data []byte) {
		select {
		case out <- data:
		default:
			slowOnce.Do(func() { close(slow) })
		}
	})
	if !ok {
		clientConn.Close(closeSessionEnded, "Session ended")
		return
	}
	defer unsubData()

	// The session may have ended between the status check and subscribing.
	if rec, ok := h.Console.Status(identity); !ok || !rec.Connected {
		clientConn.Close(closeSessionEnded, "Session ended")
		return
	}

	if len(history) > 0 {
		if err := clientConn.Write(ctx, websocket.MessageBinary, history); err != nil {
			return
		}
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-out:
				if err := clientConn.Write(ctx, websocket.MessageBinary, data); err != nil {
					return
				}
			case <-slow:
				log.Printf("[console] terminal client for %s too slow, disconnecting", logutil.SanitizeForLog(identity))
				clientConn.Close(closeSlowConsumer, "Output buffer overflow")
				return
			case <-ended:
				// Flush what the shell wrote before it exited.
				for {
					select {
					case data := <-out:
						if err := clientConn.Write(ctx, websocket.MessageBinary, data); err != nil {
							return
						}
					default:
						clientConn.Close(closeSessionEnded, "Session ended")
						return
					}
				}
			}
		}
	}()

	limiter := h.inputLimiter()
	for {
		msgType, data, err := clientConn.Read(ctx)
		if err != nil {
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			if len(data) > sshterminal.MaxInputMessageSize {
				log.Printf("[console] terminal input for %s dropped: %d bytes exceeds limit", logutil.SanitizeForLog(identity), len(data))
				continue
			}
			if !limiter.Allow() {
				continue
			}
			if !h.Console.SendTerminalData(identity, data) {
				clientConn.Close(closeInternalError, "Write to shell failed")
				return
			}
		case websocket.MessageText:
			var msg termResizeMsg
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "resize" {
				continue
			}
			if msg.Cols <= 0 || msg.Rows <= 0 {
				continue
			}
			h.Console.ResizeTerminal(identity, min(msg.Cols, sshterminal.MaxResizeCols), min(msg.Rows, sshterminal.MaxResizeRows))
		}
	}
}
