package session

import (
	"context"
	"errors"
	"sync"
)

// Keys under which the session is persisted.
//
// NOTE: These names are part of the on-disk contract; existing session files
// and redis keys are read back with them.
const (
	KeyToken           = "inventoryai_token"
	KeyUser            = "inventoryai_user"
	KeyActiveCompanyID = "inventoryai_active_company_id"
)

var persistedKeys = []string{KeyToken, KeyUser, KeyActiveCompanyID}

// Persister is durable key/value storage for session state.
//
// Implementations must be safe for concurrent use. Get reports ok=false for
// an absent key; absence is not an error. Delete of an absent key succeeds.
type Persister interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ErrCorrupt is wrapped by a Persister whose stored state cannot be read
// back at all.
var ErrCorrupt = errors.New("persisted session is corrupt")

// Resetter is implemented by persisters that can discard unreadable state
// and start over empty.
type Resetter interface {
	Reset(ctx context.Context) error
}

// MemoryPersister keeps session state in process memory. State survives a
// Store being rebuilt over the same persister, which is how tests simulate a
// process restart.
type MemoryPersister struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{values: make(map[string]string)}
}

func (m *MemoryPersister) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryPersister) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryPersister) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
