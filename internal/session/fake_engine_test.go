package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	binding  Binding
	reply    func(msg []byte) ([]byte, error)
	done     chan struct{}
	once     sync.Once
	closes   atomic.Int32
	closeErr error

	// entered, when set, makes Handle block until its context is done.
	entered chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{done: make(chan struct{})}
}

func (e *fakeEngine) Handle(ctx context.Context, msg []byte) ([]byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, string(msg))
	reply := e.reply
	entered := e.entered
	e.mu.Unlock()
	if entered != nil {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if reply != nil {
		return reply(msg)
	}
	return append([]byte("ok:"), msg...), nil
}

func (e *fakeEngine) Done() <-chan struct{} { return e.done }

func (e *fakeEngine) Close() error {
	e.closes.Add(1)
	e.once.Do(func() { close(e.done) })
	return e.closeErr
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// factoryFor returns a factory handing out e and recording the binding.
func factoryFor(e *fakeEngine) EngineFactory {
	return func(b Binding) (Engine, error) {
		e.mu.Lock()
		e.binding = b
		e.mu.Unlock()
		return e, nil
	}
}

var errFactory = errors.New("factory failed")

func failingFactory(Binding) (Engine, error) { return nil, errFactory }
