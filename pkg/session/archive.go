package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"

	"support-chat-dispatcher/pkg/models"
)

// Archive keeps a durable copy of every conversation
type Archive interface {
	Archive(ctx context.Context, state *models.ConversationState) error
}

const createConversationsTable = `
CREATE TABLE IF NOT EXISTS conversations (
	session_id    TEXT PRIMARY KEY,
	customer_id   BIGINT,
	messages      JSONB NOT NULL DEFAULT '[]',
	current_agent TEXT,
	context       JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertConversation = `
INSERT INTO conversations (session_id, customer_id, messages, current_agent, context, updated_at)
VALUES ($1, $2, $3::jsonb, $4, $5::jsonb, $6)
ON CONFLICT (session_id) DO UPDATE SET
	customer_id   = COALESCE(EXCLUDED.customer_id, conversations.customer_id),
	messages      = EXCLUDED.messages,
	current_agent = EXCLUDED.current_agent,
	context       = EXCLUDED.context,
	updated_at    = EXCLUDED.updated_at`

// PostgresArchive upserts conversations into the conversations table
type PostgresArchive struct {
	conn   *sql.DB
	logger *logrus.Logger
}

// NewPostgresArchive connects to dsn and makes sure the table exists
func NewPostgresArchive(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresArchive, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, createConversationsTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create conversations table: %w", err)
	}

	logger.Info("Connected to PostgreSQL conversation archive")
	return &PostgresArchive{conn: conn, logger: logger}, nil
}

func (a *PostgresArchive) Archive(ctx context.Context, state *models.ConversationState) error {
	messages, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	convContext, err := json.Marshal(state.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}

	var customerID sql.NullInt64
	if state.CustomerID != nil {
		customerID = sql.NullInt64{Int64: *state.CustomerID, Valid: true}
	}

	_, err = a.conn.ExecContext(ctx, upsertConversation,
		state.SessionID,
		customerID,
		string(messages),
		state.CurrentAgent,
		string(convContext),
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}
	return nil
}

// MessageCount returns how many messages are archived for sessionID
func (a *PostgresArchive) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := a.conn.QueryRowContext(ctx,
		`SELECT jsonb_array_length(messages) FROM conversations WHERE session_id = $1`,
		sessionID,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count archived messages: %w", err)
	}
	return n, nil
}

func (a *PostgresArchive) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
