// Package securemem keeps bearer credentials and decrypted API keys in
// memguard-protected memory so they do not linger in the Go heap, in swap
// or in core dumps for the lifetime of a session.
package securemem

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Purge destroys every protected buffer. Call it during shutdown after all
// sessions have been closed. Do not install memguard.CatchInterrupt: it
// exits the process on SIGINT before sessions are torn down.
func Purge() {
	memguard.Purge()
}

// String is a secret held in a locked, guarded buffer. The zero value and
// a nil *String both behave as an empty secret.
type String struct {
	mu  sync.RWMutex
	buf *memguard.LockedBuffer
}

// NewString moves plaintext into protected memory.
func NewString(plaintext string) *String {
	if plaintext == "" {
		return &String{}
	}
	return &String{buf: memguard.NewBufferFromBytes([]byte(plaintext))}
}

// NewStringFromBytes moves data into protected memory. memguard wipes the
// input slice.
func NewStringFromBytes(data []byte) *String {
	if len(data) == 0 {
		return &String{}
	}
	return &String{buf: memguard.NewBufferFromBytes(data)}
}

// String returns a plaintext copy in regular memory. Prefer WithValue when
// the value is only needed for the duration of a call.
func (s *String) String() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.buf == nil || !s.buf.IsAlive() {
		return ""
	}
	return string(s.buf.Bytes())
}

// WithValue runs fn with the plaintext. fn must not retain the value.
func (s *String) WithValue(fn func(string)) {
	fn(s.String())
}

// IsEmpty reports whether the secret is empty or destroyed.
func (s *String) IsEmpty() bool {
	return s.Len() == 0
}

// Len returns the secret length in bytes.
func (s *String) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.buf == nil || !s.buf.IsAlive() {
		return 0
	}
	return s.buf.Size()
}

// Destroy wipes the secret. It is safe to call more than once.
func (s *String) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
}

// Wipe zeroes a byte slice holding plaintext.
func Wipe(data []byte) {
	memguard.WipeBytes(data)
}
