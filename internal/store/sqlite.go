package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/loreworks/ragserve/internal/observability"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dsn and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection; pin to one so every
	// query sees the same data.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			thread_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (thread_id) REFERENCES conversations(thread_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, threadID, ownerID, title string) (*Conversation, error) {
	// Atomic first-turn creation: concurrent callers race on the insert and
	// the loser falls through to the read below.
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (thread_id, owner_id, title, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO NOTHING`,
		threadID, ownerID, title, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		observability.Metrics().ConversationsCreatedTotal.Inc()
		observability.Audit().LogConversationCreate(ctx, threadID, ownerID)
		return &Conversation{
			ThreadID:  threadID,
			OwnerID:   ownerID,
			Title:     title,
			CreatedAt: now,
		}, nil
	}

	conv, owner, err := s.lookup(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if conv == nil || owner != ownerID {
		return nil, ErrNotFound
	}
	return conv, nil
}

func (s *SQLiteStore) Get(ctx context.Context, threadID, ownerID string) (*Conversation, error) {
	conv, owner, err := s.lookup(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if conv == nil || owner != ownerID {
		return nil, ErrNotFound
	}
	return conv, nil
}

// lookup fetches a conversation by thread id regardless of owner. The owner
// is returned separately so callers decide how to report mismatches.
func (s *SQLiteStore) lookup(ctx context.Context, threadID string) (*Conversation, string, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT c.thread_id, c.owner_id, c.title, c.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.thread_id = c.thread_id)
		 FROM conversations c WHERE c.thread_id = ?`,
		threadID).Scan(&conv.ThreadID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.MessageCount)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &conv, conv.OwnerID, nil
}

func (s *SQLiteStore) Append(ctx context.Context, threadID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, threadID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, thread_id, role, content, created_at
		 FROM messages WHERE thread_id = ? ORDER BY seq ASC`,
		threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) List(ctx context.Context, ownerID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.thread_id, c.owner_id, c.title, c.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.thread_id = c.thread_id)
		 FROM conversations c WHERE c.owner_id = ?
		 ORDER BY c.rowid DESC`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ThreadID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.MessageCount); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE thread_id = ? AND owner_id = ?`,
		threadID, ownerID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable. Used by the health endpoint.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
