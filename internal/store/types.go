// Package store persists identified users and their conversation turns.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// User is a lead, unique by email.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationRecord is one persisted user message and the reply it got.
type ConversationRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Intent    string    `json:"intent"`
	CreatedAt time.Time `json:"created_at"`
}

// Gateway is the persistence boundary used by the chat controller.
type Gateway interface {
	// UpsertUserByEmail returns the user for email, creating it with name on
	// first sighting. An existing user's name is left untouched.
	UpsertUserByEmail(ctx context.Context, name, email string) (User, error)
	AppendConversationRecord(ctx context.Context, rec ConversationRecord) error
	UserByEmail(ctx context.Context, email string) (User, error)
	// ConversationsByUser returns records oldest first.
	ConversationsByUser(ctx context.Context, userID string) ([]ConversationRecord, error)
	Close() error
}
