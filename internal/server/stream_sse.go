package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/session"
	"github.com/gorilla/websocket"
	sse "github.com/tmaxmax/go-sse"
)

// handleStream attaches the caller as the session's Stream Channel. An
// upgrade request gets a WebSocket, anything else Server-Sent Events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.registry.Lookup(id)
	if !ok {
		http.Error(w, msgSessionNotFound, http.StatusNotFound)
		return
	}

	stream, err := sess.OpenStream(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			http.Error(w, msgSessionNotFound, http.StatusNotFound)
			return
		}
		// Client gave up while the handshake was pending.
		s.log.Debug("Session %s: open stream: %v", id, err)
		return
	}
	s.log.Debug("Session %s: stream attached", id)

	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, sess, stream)
		return
	}
	s.serveSSE(w, r, sess, stream)
}

// serveSSE writes stream messages as "message" events until the client
// disconnects, the stream is replaced or closed, or the server stops.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, sess *session.Session, stream *session.Stream) {
	w.Header().Set(HeaderSessionID, sess.ID())
	w.Header().Set("Connection", "keep-alive")
	conn, err := sse.Upgrade(w, r)
	if err != nil {
		sess.DetachStream(stream)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ready := &sse.Message{}
	ready.AppendComment("ready")
	if err := sendSSE(conn, ready); err != nil {
		sess.DetachStream(stream)
		return
	}

	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-stream.Messages():
			event := &sse.Message{Type: sse.Type("message")}
			event.AppendData(string(msg))
			if err := sendSSE(conn, event); err != nil {
				s.log.Debug("Session %s: SSE write failed: %v", sess.ID(), err)
				sess.DetachStream(stream)
				return
			}

		case <-ticker.C:
			ping := &sse.Message{}
			ping.AppendComment("keep-alive")
			if err := sendSSE(conn, ping); err != nil {
				sess.DetachStream(stream)
				return
			}

		case <-r.Context().Done():
			s.log.Debug("Session %s: SSE client disconnected", sess.ID())
			sess.DetachStream(stream)
			return

		case <-stream.Done():
			return

		case <-s.quitChan:
			sess.DetachStream(stream)
			return
		}
	}
}

func sendSSE(conn *sse.Session, m *sse.Message) error {
	if err := conn.Send(m); err != nil {
		return err
	}
	return conn.Flush()
}
