// Package session ties visitor identity, the remote flow and transcript
// persistence together.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/sv-explore/internal/domain"
	"github.com/ashureev/sv-explore/internal/flow"
	"github.com/ashureev/sv-explore/internal/metrics"
	"github.com/ashureev/sv-explore/internal/store"
)

var (
	// ErrNoSession is returned when a session id does not belong to a logged-in user.
	ErrNoSession = errors.New("session: no active session")

	// ErrEmptyMessage is returned for blank chat input.
	ErrEmptyMessage = errors.New("session: message is empty")

	// ErrFlowDisabled is returned by Chat when no flow runner is configured.
	ErrFlowDisabled = errors.New("session: conversational flow is not configured")
)

// Opened is an opened chat session and the transcript it carries.
type Opened struct {
	store.Resolution
	History domain.Transcript
}

// Reply is the result of one chat turn.
type Reply struct {
	Response string
	History  domain.Transcript
	// Saved is false when the transcript could not be persisted. The reply is
	// still valid.
	Saved bool
}

// Download is a transcript rendered for saving on the client.
type Download struct {
	Filename string
	Content  []byte
}

// Service orchestrates the session lifecycle.
type Service struct {
	users         store.UserRegistry
	conversations store.ConversationStore
	runner        flow.Runner
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time

	// chatLocks serializes the load, append, save cycle per session.
	chatLocks sync.Map
}

// Option customizes a Service.
type Option func(*Service)

// WithRunner sets the flow used to answer chat messages.
func WithRunner(r flow.Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithMetrics records resolutions, saves and flow latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over the given stores.
func NewService(users store.UserRegistry, conversations store.ConversationStore, opts ...Option) (*Service, error) {
	if users == nil || conversations == nil {
		return nil, fmt.Errorf("new session service: %w", store.ErrNotConfigured)
	}
	s := &Service{
		users:         users,
		conversations: conversations,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FlowEnabled reports whether Chat can reach a flow.
func (s *Service) FlowEnabled() bool {
	return s.runner != nil
}

// Open resolves the client token and loads the transcript to show.
func (s *Service) Open(ctx context.Context, token string) (Opened, error) {
	res, err := withRetry(ctx, "resolve session", func(ctx context.Context) (store.Resolution, error) {
		return s.users.ResolveSession(ctx, token)
	})
	if err != nil {
		return Opened{}, err
	}
	s.metrics.SessionResolved(res.Outcome.String())

	opened := Opened{Resolution: res, History: domain.Transcript{}}
	switch res.Outcome {
	case store.OutcomeNew:
		s.logger.Info("New visitor session", "session_id", res.SessionID, "username", res.Username)
	case store.OutcomeReactivated:
		s.logger.Info("Visitor returned after logout", "session_id", res.SessionID, "username", res.Username)
	case store.OutcomeResumed:
		history, err := s.loadTranscript(ctx, res.SessionID)
		if err != nil {
			return Opened{}, err
		}
		opened.History = history
		s.logger.Info("Visitor session resumed", "session_id", res.SessionID, "visits", res.VisitCount)
	default:
		return Opened{}, fmt.Errorf("open session: unexpected outcome %d", res.Outcome)
	}
	return opened, nil
}

// Chat sends message to the flow on behalf of sessionID and persists both turns.
// A failed save is reported through Reply.Saved, not as an error.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	if s.runner == nil {
		return Reply{}, ErrFlowDisabled
	}

	user, err := s.activeUser(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	history, err := s.loadTranscript(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}

	start := time.Now()
	response, err := s.runner.Run(ctx, flow.Request{
		Message:   message,
		User:      user.Username,
		SessionID: sessionID,
		History:   history,
	})
	s.metrics.FlowRequest(time.Since(start), err)
	if err != nil {
		s.logger.Warn("Flow request failed", "session_id", sessionID, "error", err)
		return Reply{}, fmt.Errorf("run flow: %w", err)
	}

	now := s.now()
	history = history.
		Append(domain.RoleUser, message, user.Username, now).
		Append(domain.RoleAssistant, response, user.Username, now)

	saved := s.save(ctx, user, history)
	return Reply{Response: response, History: history, Saved: saved}, nil
}

func (s *Service) lockSession(sessionID string) func() {
	lock, _ := s.chatLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) save(ctx context.Context, user *domain.User, history domain.Transcript) bool {
	encoded, err := history.Encode()
	if err != nil {
		s.logger.Error("Failed to encode transcript", "session_id", user.SessionID, "error", err)
		s.metrics.ConversationSaved(false)
		return false
	}

	_, err = withRetry(ctx, "save conversation", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.conversations.Save(ctx, user.SessionID, user.Username, encoded, user.ExplorationsCompleted)
	})
	s.metrics.ConversationSaved(err == nil)
	if err != nil {
		s.logger.Error("Failed to save conversation", "session_id", user.SessionID, "error", err)
		return false
	}
	return true
}

// Conversation returns the stored conversation of sessionID, or nil if none was saved.
func (s *Service) Conversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	if _, err := s.activeUser(ctx, sessionID); err != nil {
		return nil, err
	}
	return withRetry(ctx, "get conversation", func(ctx context.Context) (*domain.Conversation, error) {
		return s.conversations.Get(ctx, sessionID)
	})
}

// Download renders the transcript of sessionID as an indented JSON file.
func (s *Service) Download(ctx context.Context, sessionID string) (Download, error) {
	user, err := s.activeUser(ctx, sessionID)
	if err != nil {
		return Download{}, err
	}
	history, err := s.loadTranscript(ctx, sessionID)
	if err != nil {
		return Download{}, err
	}
	encoded, err := history.Encode()
	if err != nil {
		return Download{}, err
	}
	return Download{
		Filename: fmt.Sprintf("conversation_%s_%s.json", user.Username, s.now().Format("20060102_150405")),
		Content:  []byte(encoded),
	}, nil
}

// Logout ends sessionID. It returns false when the session was unknown.
func (s *Service) Logout(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	ok, err := withRetry(ctx, "logout", func(ctx context.Context) (bool, error) {
		return s.users.Logout(ctx, sessionID)
	})
	if err != nil {
		return false, err
	}
	if ok {
		s.chatLocks.Delete(sessionID)
		s.logger.Info("Visitor logged out", "session_id", sessionID)
	}
	return ok, nil
}

// ActiveSessions lists logged-in visitors for the admin view.
func (s *Service) ActiveSessions(ctx context.Context) ([]domain.User, error) {
	return withRetry(ctx, "list active users", s.users.ListActive)
}

// Remove deletes the visitor holding sessionID.
func (s *Service) Remove(ctx context.Context, sessionID string) (bool, error) {
	ok, err := withRetry(ctx, "remove user", func(ctx context.Context) (bool, error) {
		return s.users.Remove(ctx, sessionID)
	})
	if err != nil {
		return false, err
	}
	if ok {
		s.chatLocks.Delete(sessionID)
		s.logger.Info("Visitor removed", "session_id", sessionID)
	}
	return ok, nil
}

func (s *Service) activeUser(ctx context.Context, sessionID string) (*domain.User, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	user, err := withRetry(ctx, "lookup user", func(ctx context.Context) (*domain.User, error) {
		return s.users.Lookup(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Logged {
		return nil, ErrNoSession
	}
	return user, nil
}

// loadTranscript decodes the saved transcript. An unreadable blob is logged
// and replaced by an empty transcript so the visitor can keep chatting.
func (s *Service) loadTranscript(ctx context.Context, sessionID string) (domain.Transcript, error) {
	conv, err := withRetry(ctx, "get conversation", func(ctx context.Context) (*domain.Conversation, error) {
		return s.conversations.Get(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return domain.Transcript{}, nil
	}
	history, err := conv.Transcript()
	if err != nil {
		s.logger.Warn("Discarding unreadable transcript", "session_id", sessionID, "error", err)
		return domain.Transcript{}, nil
	}
	return history, nil
}
