package session

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/leadbot/internal/conversation"
)

type entry struct {
	state          conversation.State
	lastActivityAt time.Time
}

// MemoryStore keeps snapshots in process and forgets sessions idle for longer than ttl.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
	onExpire func(id string)
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryStore{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireHook registers a callback run (outside the lock) for every expired session.
func (m *MemoryStore) SetExpireHook(hook func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *MemoryStore) Load(_ context.Context, id string) (conversation.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok || m.now().Sub(e.lastActivityAt) >= m.ttl {
		return conversation.State{}, ErrNotFound
	}
	return e.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, id string, state conversation.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &entry{state: state.Clone(), lastActivityAt: m.now()}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok, nil
}

func (m *MemoryStore) Close() error { return nil }

// Len reports the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor evicts idle sessions every interval until ctx is done.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *MemoryStore) expireInactive() {
	now := m.now()
	var expired []string

	m.mu.Lock()
	for id, e := range m.sessions {
		if now.Sub(e.lastActivityAt) < m.ttl {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, id := range expired {
			hook(id)
		}
	}
}
