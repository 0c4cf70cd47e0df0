package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/sv-explore/internal/domain"
)

// Conversations implements ConversationStore on Postgres.
type Conversations struct {
	pool *Pool
	now  func() time.Time
}

// NewConversations creates a conversation store backed by pool.
func NewConversations(pool *Pool) (*Conversations, error) {
	if pool == nil {
		return nil, fmt.Errorf("new conversation store: %w", ErrNotConfigured)
	}
	return &Conversations{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get retrieves the conversation saved for sessionID.
// Returns (nil, nil) if nothing was saved yet.
func (c *Conversations) Get(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	var (
		conv    domain.Conversation
		history sql.NullString
		found   bool
	)
	err := c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, `
			SELECT session_id, username, save_time, visits, conversation_history
			FROM conversations WHERE session_id = $1`,
			sessionID,
		).Scan(&conv.SessionID, &conv.Username, &conv.SaveTime, &conv.Visits, &history)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scan conversation row: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, classify("get conversation", err)
	}
	if !found {
		return nil, nil
	}
	conv.ConversationHistory = history.String
	return &conv, nil
}

// Create inserts a conversation. A duplicate session id yields (false, nil)
// so the caller can fall back to Update.
func (c *Conversations) Create(ctx context.Context, sessionID, username, transcript string, visits int) (bool, error) {
	err := c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO conversations (session_id, username, save_time, visits, conversation_history)
			VALUES ($1, $2, $3, $4, $5)`,
			sessionID, username, c.now(), visits, transcript,
		)
		return err
	})
	if err != nil {
		err = classify("create conversation", err)
		if errors.Is(err, ErrUniqueViolation) {
			slog.Debug("conversation already exists", "session_id", sessionID)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Update rewrites the transcript and visit count of an existing conversation.
// It returns (false, nil) when no conversation exists for sessionID.
func (c *Conversations) Update(ctx context.Context, sessionID, transcript string, visits int) (bool, error) {
	var affected int64
	err := c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE conversations
			SET conversation_history = $1, visits = $2, save_time = $3
			WHERE session_id = $4`,
			transcript, visits, c.now(), sessionID,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, classify("update conversation", err)
	}
	return affected > 0, nil
}

// Save creates or replaces the conversation for sessionID in one statement.
// The username of an existing row is kept.
func (c *Conversations) Save(ctx context.Context, sessionID, username, transcript string, visits int) error {
	err := c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO conversations (session_id, username, save_time, visits, conversation_history)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (session_id) DO UPDATE SET
				save_time = EXCLUDED.save_time,
				visits = EXCLUDED.visits,
				conversation_history = EXCLUDED.conversation_history`,
			sessionID, username, c.now(), visits, transcript,
		)
		return err
	})
	return classify("save conversation", err)
}
