package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/logger"
	"github.com/cespare/xxhash/v2"
)

const defaultShards = 16

// Registry maps session ids to live sessions. Operations on one id are
// mutually exclusive; different ids land on different shards and do not
// contend.
type Registry struct {
	shards []*shard
	mask   uint64
	log    *logger.Logger
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]*shard, nextPowerOfTwo(uint64(n)))
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		shards: make([]*shard, defaultShards),
		log:    logger.Global().WithPrefix("session"),
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	r.mask = uint64(len(r.shards) - 1)
	return r
}

func (r *Registry) shard(id string) *shard {
	return r.shards[xxhash.Sum64String(id)&r.mask]
}

// Insert registers s. Inserting an id twice is a programming error and
// panics. The registry removes s on its own when the engine shuts down.
func (r *Registry) Insert(s *Session) {
	sh := r.shard(s.id)
	sh.mu.Lock()
	if _, exists := sh.sessions[s.id]; exists {
		sh.mu.Unlock()
		panic(fmt.Sprintf("session: duplicate id %q", s.id))
	}
	sh.sessions[s.id] = s
	sh.mu.Unlock()

	r.log.Debug("Session %s registered (client %s)", s.id, s.identity.ClientID)
	go r.watch(s)
}

func (r *Registry) watch(s *Session) {
	select {
	case <-s.engine.Done():
		if r.Remove(s.id) {
			r.log.Info("Session %s closed by engine", s.id)
		}
	case <-s.closed:
	}
}

// Lookup returns the session for id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Remove closes and unregisters the session for id. It reports whether a
// session was removed; removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	s, ok := sh.sessions[id]
	if ok {
		delete(sh.sessions, id)
		s.markClosed()
	}
	sh.mu.Unlock()

	if !ok {
		return false
	}
	if err := s.teardown(); err != nil {
		r.log.Warn("Session %s: engine close: %v", id, err)
	}
	r.log.Debug("Session %s removed", id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Range calls fn for a snapshot of the live sessions until fn returns
// false. fn runs without any registry lock held.
func (r *Registry) Range(fn func(*Session) bool) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		snapshot := make([]*Session, 0, len(sh.sessions))
		for _, s := range sh.sessions {
			snapshot = append(snapshot, s)
		}
		sh.mu.RUnlock()

		for _, s := range snapshot {
			if !fn(s) {
				return
			}
		}
	}
}

// CloseAll closes every session and empties the registry. It returns the
// number of sessions closed.
func (r *Registry) CloseAll() int {
	var closing []*Session
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			s.markClosed()
			closing = append(closing, s)
			delete(sh.sessions, id)
		}
		sh.mu.Unlock()
	}

	for _, s := range closing {
		if err := s.teardown(); err != nil {
			r.log.Warn("Session %s: engine close: %v", s.id, err)
		}
	}
	if len(closing) > 0 {
		r.log.Info("Closed %d sessions", len(closing))
	}
	return len(closing)
}

// ExpireIdle removes sessions without a stream whose last activity is
// older than maxIdle. It returns the number removed.
func (r *Registry) ExpireIdle(now time.Time, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := now.Add(-maxIdle)

	var idle []string
	r.Range(func(s *Session) bool {
		if s.LastActive().Before(cutoff) && !s.hasStream() {
			idle = append(idle, s.id)
		}
		return true
	})

	n := 0
	for _, id := range idle {
		if r.Remove(id) {
			r.log.Info("Session %s expired after %s idle", id, maxIdle)
			n++
		}
	}
	return n
}

// RunReaper expires idle sessions every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	if interval <= 0 {
		interval = maxIdle / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.ExpireIdle(now, maxIdle)
		}
	}
}

func nextPowerOfTwo(v uint64) uint64 {
	p := uint64(1)
	for p < v {
		p <<= 1
	}
	return p
}
