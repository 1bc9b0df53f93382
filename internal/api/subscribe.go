// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/videocatalog/videocatalog/internal/events"
	"github.com/videocatalog/videocatalog/internal/fault"
)

const wsWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API key already gates access; same-origin enforcement would break
	// LAN clients connecting by IP.
	CheckOrigin: func(*http.Request) bool { return true },
}

func deadline() time.Time { return time.Now().Add(wsWriteTimeout) }

// handleSubscribe serves SSE and WebSocket on one path; an Upgrade header
// selects the transport.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		writeError(w, fault.New(fault.Gated, "event broker disabled"))
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.subscribeWS(w, r)
		return
	}
	s.subscribeSSE(w, r)
}

// subscribeParams reads last_seq (default: live-only) and client_id.
func subscribeParams(r *http.Request) (lastSeq int64, clientID string) {
	lastSeq = -1
	if raw := r.URL.Query().Get("last_seq"); raw != "" {
		lastSeq = queryInt64(r, "last_seq", -1)
	}
	return lastSeq, r.URL.Query().Get("client_id")
}

func (s *Server) subscribeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fault.New(fault.Internal, "streaming unsupported"))
		return
	}
	lastSeq, clientID := subscribeParams(r)
	sub, err := s.deps.Broker.Subscribe(r.Context(), events.TransportSSE, clientID, lastSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.closeSubscription(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), raw...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
			s.heartbeat(sub.ID)
		}
	}
}

func (s *Server) subscribeWS(w http.ResponseWriter, r *http.Request) {
	lastSeq, clientID := subscribeParams(r)
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	sub, err := s.deps.Broker.Subscribe(r.Context(), events.TransportWS, clientID, lastSeq)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, fault.MessageOf(err)), deadline())
		return
	}
	defer s.closeSubscription(sub)

	// Reader goroutine notices the peer going away; we never expect inbound
	// frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, open := <-sub.Events():
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"), deadline())
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(deadline())
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
			s.heartbeat(sub.ID)
		}
	}
}

func (s *Server) heartbeat(clientID string) {
	if s.deps.Monitor != nil {
		s.deps.Monitor.Heartbeat(clientID)
	}
}

func (s *Server) closeSubscription(sub *events.Subscriber) {
	s.deps.Broker.Unsubscribe(sub.ID)
	if s.deps.Monitor != nil {
		s.deps.Monitor.Forget(sub.ID)
	}
}
