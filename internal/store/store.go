// Package store provides data persistence interfaces and their Postgres implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/sv-explore/internal/domain"
)

// Outcome tells how a client token was resolved to a session.
type Outcome int

const (
	// OutcomeNew means a brand-new user row was created.
	OutcomeNew Outcome = iota + 1
	// OutcomeResumed means a logged-in row was found and its visit counter bumped.
	OutcomeResumed
	// OutcomeReactivated means a logged-out row was reused under a new session id.
	OutcomeReactivated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeResumed:
		return "resumed"
	case OutcomeReactivated:
		return "reactivated"
	default:
		return "unknown"
	}
}

// Resolution is the result of resolving a client-held session token.
type Resolution struct {
	UserID     int64
	Username   string
	SessionID  string
	VisitCount int
	Outcome    Outcome
}

// IsNew reports whether the visitor had no usable token.
func (r Resolution) IsNew() bool {
	return r.Outcome == OutcomeNew
}

// UserRegistry maps session tokens to persistent visitor records.
type UserRegistry interface {
	// ResolveSession resolves a client token (possibly empty) to a live session.
	// Unknown tokens are treated like empty ones.
	ResolveSession(ctx context.Context, token string) (Resolution, error)

	// Lookup returns the user holding sessionID, or nil if there is none.
	Lookup(ctx context.Context, sessionID string) (*domain.User, error)

	// Logout deactivates the row holding sessionID. It returns false if no row matched.
	Logout(ctx context.Context, sessionID string) (bool, error)

	// ListActive returns logged-in users ordered by user_id.
	ListActive(ctx context.Context) ([]domain.User, error)

	// ListAll returns every user ordered by user_id.
	ListAll(ctx context.Context) ([]domain.User, error)

	// Remove hard-deletes the row holding sessionID.
	Remove(ctx context.Context, sessionID string) (bool, error)

	// MarkIdle flags Active rows not seen since cutoff as Idle without logging them out.
	MarkIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// ConversationStore keeps at most one transcript per session.
type ConversationStore interface {
	// Get returns the conversation for sessionID, or nil if none was saved yet.
	Get(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// Create inserts a new conversation. It returns false if one already exists.
	Create(ctx context.Context, sessionID, username, transcript string, visits int) (bool, error)

	// Update rewrites an existing conversation. It returns false if none exists.
	Update(ctx context.Context, sessionID, transcript string, visits int) (bool, error)

	// Save creates or replaces the conversation in a single statement.
	Save(ctx context.Context, sessionID, username, transcript string, visits int) error
}

var (
	_ UserRegistry      = (*Users)(nil)
	_ ConversationStore = (*Conversations)(nil)
)
