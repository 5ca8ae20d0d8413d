// Package session holds the per-client conversation state of the router: the
// Session state machine, the sharded Registry that owns every live session,
// and the Stream Channel used to push messages to the client.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/auth"
	"github.com/PostPulse/mcp-server-postpulse/internal/securemem"
)

var (
	// ErrSessionNotFound is returned for ids the registry does not hold.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned for calls on a session that has been closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotActive is returned when an operation needs a completed handshake.
	ErrNotActive = errors.New("session not active")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Engine interprets the protocol messages of one session.
type Engine interface {
	// Handle processes one inbound message and returns the reply body, or
	// nil when the message needs no reply.
	Handle(ctx context.Context, msg []byte) ([]byte, error)
	// Done is closed when the engine has shut down on its own or via Close.
	Done() <-chan struct{}
	Close() error
}

// Notifier delivers an out-of-band message to the client, best effort.
type Notifier interface {
	Notify(msg []byte) bool
}

// Binding is what an engine gets to know about the session it serves.
type Binding struct {
	SessionID  string
	Identity   auth.Identity
	Credential *securemem.String
	Notifier   Notifier
}

// EngineFactory creates the engine for a new session.
type EngineFactory func(b Binding) (Engine, error)

// Option configures a Session.
type Option func(*Session)

// WithStreamBuffer sets the capacity of streams opened on the session.
func WithStreamBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.streamBuffer = n
		}
	}
}

// WithClock overrides the time source used for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

const defaultStreamBuffer = 64

// Session is one client conversation. It is created Initializing, becomes
// Active once the handshake response has been sent, and ends Closed.
type Session struct {
	id         string
	identity   auth.Identity
	credential *securemem.String
	engine     Engine
	createdAt  time.Time
	lastActive atomic.Int64
	now        func() time.Time

	streamBuffer int

	mu     sync.Mutex
	state  State
	stream *Stream

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}

	// lifetime is cancelled when the session closes. Engine calls run
	// under it so a teardown stops in-flight tool work.
	lifetime context.Context
	cancel   context.CancelFunc
}

// New creates an Initializing session and its engine. The bearer token of
// identity is moved into protected memory; Identity() never exposes it.
func New(id string, identity *auth.Identity, factory EngineFactory, opts ...Option) (*Session, error) {
	s := &Session{
		id:           id,
		now:          time.Now,
		streamBuffer: defaultStreamBuffer,
		ready:        make(chan struct{}),
		closed:       make(chan struct{}),
	}
	s.lifetime, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	if identity != nil {
		s.identity = *identity
		s.identity.Scopes = append([]string(nil), identity.Scopes...)
	}
	s.credential = securemem.NewString(s.identity.Token)
	s.identity.Token = ""
	s.createdAt = s.now()
	s.touch()

	engine, err := factory(Binding{
		SessionID:  id,
		Identity:   s.identity,
		Credential: s.credential,
		Notifier:   s,
	})
	if err != nil {
		s.cancel()
		s.credential.Destroy()
		return nil, fmt.Errorf("create engine for session %s: %w", id, err)
	}
	s.engine = engine
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Identity returns the verified identity of the handshake, without token.
func (s *Session) Identity() auth.Identity { return s.identity }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive returns the time of the last call or stream activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed is closed when the session leaves the registry.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// Initialize hands the handshake message to the engine. It is the only call
// served while the session is Initializing.
func (s *Session) Initialize(ctx context.Context, msg []byte) ([]byte, error) {
	if st := s.State(); st != StateInitializing {
		if st == StateClosed {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("session %s: initialize in state %s", s.id, st)
	}
	s.touch()
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.engine.Handle(ctx, msg)
}

// callContext returns a context that is cancelled with ctx or when the
// session closes, whichever comes first.
func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// MarkActive completes the handshake. It panics when the session is
// already Active; a session closed in the meantime yields ErrSessionClosed.
func (s *Session) MarkActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateInitializing:
		s.state = StateActive
		s.readyOnce.Do(func() { close(s.ready) })
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		panic(fmt.Sprintf("session %s: illegal transition %s -> %s", s.id, s.state, StateActive))
	}
}

// awaitActive blocks until the handshake has completed.
func (s *Session) awaitActive(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.State() != StateActive {
		return ErrSessionClosed
	}
	return nil
}

// Handle forwards a message to the engine once the session is Active.
func (s *Session) Handle(ctx context.Context, msg []byte) ([]byte, error) {
	if err := s.awaitActive(ctx); err != nil {
		return nil, err
	}
	s.touch()
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.engine.Handle(ctx, msg)
}

// OpenStream attaches a new Stream Channel, closing the previous one.
func (s *Session) OpenStream(ctx context.Context) (*Stream, error) {
	if err := s.awaitActive(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil, ErrSessionClosed
	}
	if s.stream != nil {
		s.stream.Close()
	}
	s.stream = newStream(s.id, s.streamBuffer)
	s.touch()
	return s.stream, nil
}

// DetachStream is called when the client side of st went away. The session
// stays Active.
func (s *Session) DetachStream(st *Stream) {
	st.Close()
	s.mu.Lock()
	if s.stream == st {
		s.stream = nil
	}
	s.mu.Unlock()
	s.touch()
}

// Stream returns the live stream, or nil.
func (s *Session) Stream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Notify sends msg on the live stream. It reports false when no stream is
// attached or the message was dropped.
func (s *Session) Notify(msg []byte) bool {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return false
	}
	return st.Send(msg)
}

func (s *Session) hasStream() bool {
	return s.Stream() != nil
}

// markClosed moves the session to Closed. The registry calls it under the
// shard lock so a lookup never returns a session that is being torn down
// without seeing it Closed.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	close(s.closed)
	s.cancel()
	s.readyOnce.Do(func() { close(s.ready) })
	return true
}

// teardown releases the stream, engine and credential of a closed session.
func (s *Session) teardown() error {
	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.mu.Unlock()

	if st != nil {
		st.Close()
	}
	err := s.engine.Close()
	s.credential.Destroy()
	return err
}
