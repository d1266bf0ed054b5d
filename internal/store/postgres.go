package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool the gateway uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresGateway persists users and conversation records in PostgreSQL.
type PostgresGateway struct {
	pool pgxPool
}

func NewPostgresGateway(ctx context.Context, databaseURL string) (*PostgresGateway, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	g, err := newPostgresGateway(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return g, nil
}

func newPostgresGateway(ctx context.Context, pool pgxPool) (*PostgresGateway, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresGateway{pool: pool}, nil
}

func initSchema(ctx context.Context, pool pgxPool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users (id),
			session_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			response TEXT NOT NULL,
			intent TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_created ON conversations (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (g *PostgresGateway) UpsertUserByEmail(ctx context.Context, name, email string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, fmt.Errorf("upsert user: empty email")
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	var u User
	err := g.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id, name, email, created_at, updated_at`,
		uuid.NewString(),
		strings.TrimSpace(name),
		email,
		time.Now().UTC(),
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (g *PostgresGateway) AppendConversationRecord(ctx context.Context, rec ConversationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := g.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, session_id, message, response, intent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID,
		rec.UserID,
		rec.SessionID,
		rec.Message,
		rec.Response,
		rec.Intent,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

func (g *PostgresGateway) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := g.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at, updated_at FROM users WHERE email=$1`,
		strings.TrimSpace(email),
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (g *PostgresGateway) ConversationsByUser(ctx context.Context, userID string) ([]ConversationRecord, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT id, user_id, session_id, message, response, intent, created_at
		 FROM conversations WHERE user_id=$1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var items []ConversationRecord
	for rows.Next() {
		var r ConversationRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Message, &r.Response, &r.Intent, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return items, nil
}

func (g *PostgresGateway) Close() error {
	g.pool.Close()
	return nil
}
