package registry

import "errors"

var ErrNotFound = errors.New("connection is not registered")

// Registry records the connections a process currently holds, for operators
// to inspect. It is purely observational, the transport never reads it back.
type Registry interface {
	Register(id uint64, peer string) error
	Set(id uint64, field string, value interface{}) error
	Get(id uint64) ([]byte, error)
	Remove(id uint64) error

	Len() int
	Snapshot() ([]byte, error)
}

// Nop is a Registry that records nothing.
type Nop struct{}

func (Nop) Register(uint64, string) error { return nil }
func (Nop) Set(uint64, string, interface{}) error { return nil }
func (Nop) Get(uint64) ([]byte, error) { return nil, ErrNotFound }
func (Nop) Remove(uint64) error { return nil }
func (Nop) Len() int { return 0 }
func (Nop) Snapshot() ([]byte, error) { return []byte(`{"connections":{}}`), nil }

var _ Registry = Nop{}
