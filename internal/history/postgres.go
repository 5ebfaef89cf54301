package history

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/sage/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open creates a connection pool and verifies connectivity.
func Open(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies all pending schema migrations.
func Migrate(connString string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create source driver: %w", err)
	}

	// golang-migrate selects its driver by URL scheme; route postgres
	// URLs through the pgx/v5 driver.
	url := connString
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(url, scheme) {
			url = "pgx5://" + strings.TrimPrefix(url, scheme)
			break
		}
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Store persists threads and messages.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store on an open pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Append records messages on a thread, creating the thread on first use.
// The thread title is derived from its first user message.
func (s *Store) Append(ctx context.Context, threadID uuid.UUID, agentID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	var title *string
	for _, m := range msgs {
		if m.Role == RoleUser {
			t := titleFrom(m.Content)
			title = &t
			break
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, agent_id, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET updated_at = now()`,
		threadID, agentID, title)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	for _, m := range msgs {
		var provider *string
		if m.Provider != "" {
			provider = &m.Provider
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (conversation_id, role, content, provider)
			VALUES ($1, $2, $3, $4)`,
			threadID, m.Role, m.Content, provider)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("appended messages", "thread_id", threadID, "count", len(msgs))
	return nil
}

// Recent returns the last limit messages of a thread in chronological
// order. An unknown thread yields an empty slice.
func (s *Store) Recent(ctx context.Context, threadID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, COALESCE(provider, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT $2`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Provider, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Newest-first from the query, chronological for callers.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Threads lists conversations, most recently active first.
func (s *Store) Threads(ctx context.Context, limit, offset int) ([]Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, COALESCE(title, ''), created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return threads, nil
}
