package notify

import (
	"context"
	"sync"
)

// StateKey is the key the notification state is persisted under.
const StateKey = "meteo-pwa-notifications"

// Store persists the notification state. Load returns an empty State and no error
// when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the state in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state), nil
}

func (m *MemoryStore) Save(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = copyState(s)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	return m.Save(ctx, State{})
}

func copyState(s State) State {
	if s.Temperature.MaxTemp != nil {
		v := *s.Temperature.MaxTemp
		s.Temperature.MaxTemp = &v
	}
	if s.Rain.MaxTemp != nil {
		v := *s.Rain.MaxTemp
		s.Rain.MaxTemp = &v
	}
	return s
}
