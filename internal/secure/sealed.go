package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned by Reveal after Destroy.
var ErrDestroyed = errors.New("sealed value has been destroyed")

// Sealed holds a string encrypted in a memguard enclave.
type Sealed struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	empty     bool
	destroyed bool
}

// Seal copies value into a protected enclave. The empty string is tracked
// without allocating an enclave, since memguard rejects zero-length data.
func Seal(value string) *Sealed {
	if value == "" {
		return &Sealed{empty: true}
	}
	return &Sealed{enclave: memguard.NewEnclave([]byte(value))}
}

// Empty reports whether the sealed value is the empty string.
func (s *Sealed) Empty() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.empty
}

// Reveal decrypts the value and passes a heap copy of it to fn. The guarded
// buffer is wiped when fn returns; the copy stays valid for callers such as
// credential constructors that keep it.
func (s *Sealed) Reveal(fn func(value string) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return ErrDestroyed
	}
	if s.empty {
		return fn("")
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(string(locked.Bytes()))
}

// Destroy drops the enclave. It is idempotent.
func (s *Sealed) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}

// String never exposes the sealed value.
func (s *Sealed) String() string {
	return "[REDACTED]"
}
