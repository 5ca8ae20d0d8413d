package session

import (
	"sync"
	"sync/atomic"
)

// Stream is the push channel of one session. Send never blocks: messages
// are dropped when the buffer is full or the stream is closed, and nothing
// is queued for a client that is not connected.
type Stream struct {
	sessionID string
	out       chan []byte
	done      chan struct{}
	once      sync.Once
	dropped   atomic.Int64
}

func newStream(sessionID string, buffer int) *Stream {
	return &Stream{
		sessionID: sessionID,
		out:       make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
}

// SessionID returns the id of the owning session.
func (st *Stream) SessionID() string { return st.sessionID }

// Send enqueues msg for delivery. Messages from one sender are delivered in
// order.
func (st *Stream) Send(msg []byte) bool {
	select {
	case <-st.done:
		return false
	default:
	}
	select {
	case st.out <- msg:
		return true
	case <-st.done:
		return false
	default:
		st.dropped.Add(1)
		return false
	}
}

// Messages is read by the transport writer.
func (st *Stream) Messages() <-chan []byte { return st.out }

// Done is closed when the stream is closed.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Close closes the stream. It is safe to call more than once.
func (st *Stream) Close() {
	st.once.Do(func() { close(st.done) })
}

// Dropped returns how many messages were discarded because the buffer was full.
func (st *Stream) Dropped() int64 { return st.dropped.Load() }
