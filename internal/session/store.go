// Package session keeps per-session conversation snapshots between turns.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ent0n29/leadbot/internal/conversation"
)

var ErrNotFound = errors.New("session not found")

// Store loads and saves conversation snapshots by opaque session id.
type Store interface {
	Load(ctx context.Context, id string) (conversation.State, error)
	Save(ctx context.Context, id string, state conversation.State) error
	// Delete removes id and reports whether a snapshot was stored under it.
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

// Locker serialises writers of the same session id.
type Locker interface {
	Lock(ctx context.Context, id string) (unlock func(), err error)
}

// NewID issues a fresh session id.
func NewID() string {
	return uuid.NewString()
}
