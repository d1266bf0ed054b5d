package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryGateway is an in-process gateway for local/dev use.
type InMemoryGateway struct {
	mu      sync.RWMutex
	users   map[string]User // by email
	records map[string][]ConversationRecord
}

func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		users:   make(map[string]User),
		records: make(map[string][]ConversationRecord),
	}
}

func (g *InMemoryGateway) UpsertUserByEmail(_ context.Context, name, email string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, fmt.Errorf("upsert user: empty email")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if u, ok := g.users[email]; ok {
		return u, nil
	}
	now := time.Now().UTC()
	u := User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.users[email] = u
	return u, nil
}

func (g *InMemoryGateway) AppendConversationRecord(_ context.Context, rec ConversationRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("append conversation: empty user id")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[rec.UserID] = append(g.records[rec.UserID], rec)
	return nil
}

func (g *InMemoryGateway) UserByEmail(_ context.Context, email string) (User, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	u, ok := g.users[strings.TrimSpace(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (g *InMemoryGateway) ConversationsByUser(_ context.Context, userID string) ([]ConversationRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	arr := g.records[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	return append([]ConversationRecord(nil), arr...), nil
}

func (g *InMemoryGateway) Close() error { return nil }
