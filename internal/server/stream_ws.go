package server

import (
	"net/http"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/session"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. The socket only carries
	// server-to-client traffic; client frames are read and discarded.
	maxMessageSize = 8192
)

// wsPeer is a WebSocket Stream Channel writer.
type wsPeer struct {
	srv    *Server
	conn   *websocket.Conn
	sess   *session.Session
	stream *session.Stream
	gone   chan struct{}
}

// serveWebSocket upgrades the request and pumps stream messages as text
// frames until either side goes away.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, sess *session.Session, stream *session.Stream) {
	conn, err := s.upgrader.Upgrade(w, r, http.Header{HeaderSessionID: []string{sess.ID()}})
	if err != nil {
		// Upgrade has already answered the request.
		s.log.Warn("Session %s: failed to upgrade WebSocket: %v", sess.ID(), err)
		sess.DetachStream(stream)
		return
	}

	p := &wsPeer{
		srv:    s,
		conn:   conn,
		sess:   sess,
		stream: stream,
		gone:   make(chan struct{}),
	}
	go p.readPump()
	p.writePump()
}

// pongWait is how long the peer may stay silent; pings go out every
// keep-alive period, which is less.
func (p *wsPeer) pongWait() time.Duration {
	return p.srv.opts.KeepAlive * 10 / 9
}

// readPump watches the connection for close and pongs.
func (p *wsPeer) readPump() {
	defer close(p.gone)

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(p.pongWait()))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.pongWait()))
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.srv.log.Warn("Session %s: WebSocket read error: %v", p.sess.ID(), err)
			}
			return
		}
	}
}

// writePump pumps stream messages to the WebSocket connection
func (p *wsPeer) writePump() {
	ticker := time.NewTicker(p.srv.opts.KeepAlive)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg := <-p.stream.Messages():
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.srv.log.Debug("Session %s: WebSocket write failed: %v", p.sess.ID(), err)
				p.sess.DetachStream(p.stream)
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.sess.DetachStream(p.stream)
				return
			}

		case <-p.gone:
			p.srv.log.Debug("Session %s: WebSocket client disconnected", p.sess.ID())
			p.sess.DetachStream(p.stream)
			return

		case <-p.stream.Done():
			p.closeNormally("stream closed")
			return

		case <-p.srv.quitChan:
			p.closeNormally("server shutting down")
			p.sess.DetachStream(p.stream)
			return
		}
	}
}

func (p *wsPeer) closeNormally(reason string) {
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
}
