package registry

import (
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const emptyDocument = `{"connections":{}}`

// InmemoryRegistry keeps the connection records in a single JSON document:
//
//   {"connections":{"conn-1":{"id":1,"peer":"127.0.0.1:50312","state":"open"}}}
//
type InmemoryRegistry struct {
	mu  sync.RWMutex
	doc []byte
}

func NewInmemoryRegistry() *InmemoryRegistry {
	return &InmemoryRegistry{
		doc: []byte(emptyDocument),
	}
}

func (i *InmemoryRegistry) Register(id uint64, peer string) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	doc, err := sjson.SetBytes(i.doc, path(id)+".id", id)
	if err != nil {
		return err
	}

	i.doc, err = sjson.SetBytes(doc, path(id)+".peer", peer)
	return err
}

func (i *InmemoryRegistry) Set(id uint64, field string, value interface{}) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !gjson.GetBytes(i.doc, path(id)).Exists() {
		return ErrNotFound
	}

	i.doc, err = sjson.SetBytes(i.doc, path(id)+"."+field, value)
	return err
}

func (i *InmemoryRegistry) Get(id uint64) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.doc, path(id))
	if !result.Exists() {
		return nil, ErrNotFound
	}

	return []byte(result.Raw), nil
}

func (i *InmemoryRegistry) Remove(id uint64) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.doc, err = sjson.DeleteBytes(i.doc, path(id))
	return err
}

// Len returns the number of registered connections.
func (i *InmemoryRegistry) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(gjson.GetBytes(i.doc, "connections").Map())
}

// Snapshot returns a copy of the whole document.
func (i *InmemoryRegistry) Snapshot() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	snapshot := make([]byte, len(i.doc))
	copy(snapshot, i.doc)

	return snapshot, nil
}

func path(id uint64) string {
	return "connections.conn-" + strconv.FormatUint(id, 10)
}

var _ Registry = (*InmemoryRegistry)(nil)
