package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/sv-explore/internal/domain"
	"github.com/ashureev/sv-explore/internal/flow"
	"github.com/ashureev/sv-explore/internal/store"
)

type fakeUsers struct {
	mu      sync.Mutex
	rows    map[int64]*domain.User
	nextID  int64
	seq     int
	failN   int
	failErr error
	calls   int
	cutoffs []time.Time
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{rows: make(map[int64]*domain.User)}
}

func (f *fakeUsers) mint() string {
	f.seq++
	return fmt.Sprintf("sess-%d", f.seq)
}

func (f *fakeUsers) fail() error {
	f.calls++
	if f.failN > 0 {
		f.failN--
		return f.failErr
	}
	return nil
}

func (f *fakeUsers) bySession(sessionID string) *domain.User {
	for _, u := range f.rows {
		if u.SessionID == sessionID {
			return u
		}
	}
	return nil
}

func (f *fakeUsers) ResolveSession(_ context.Context, token string) (store.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return store.Resolution{}, err
	}

	if u := f.bySession(token); token != "" && u != nil {
		if u.Logged {
			u.ExplorationsCompleted++
			u.Status = domain.StatusActive
			return store.Resolution{UserID: u.UserID, Username: u.Username, SessionID: u.SessionID, VisitCount: u.ExplorationsCompleted, Outcome: store.OutcomeResumed}, nil
		}
		u.SessionID = f.mint()
		u.ExplorationsCompleted = 1
		u.Logged = true
		u.Status = domain.StatusActive
		return store.Resolution{UserID: u.UserID, Username: u.Username, SessionID: u.SessionID, VisitCount: 1, Outcome: store.OutcomeReactivated}, nil
	}

	f.nextID++
	u := &domain.User{
		UserID:                f.nextID,
		Username:              fmt.Sprintf("user_%d", f.nextID),
		SessionID:             f.mint(),
		Status:                domain.StatusActive,
		ExplorationsCompleted: 1,
		Logged:                true,
	}
	f.rows[u.UserID] = u
	return store.Resolution{UserID: u.UserID, Username: u.Username, SessionID: u.SessionID, VisitCount: 1, Outcome: store.OutcomeNew}, nil
}

func (f *fakeUsers) Lookup(_ context.Context, sessionID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	u := f.bySession(sessionID)
	if u == nil {
		return nil, nil
	}
	copy := *u
	return &copy, nil
}

func (f *fakeUsers) Logout(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return false, err
	}
	u := f.bySession(sessionID)
	if u == nil {
		return false, nil
	}
	u.Logged = false
	u.Status = domain.StatusIdle
	return true, nil
}

func (f *fakeUsers) list(activeOnly bool) []domain.User {
	out := []domain.User{}
	for _, u := range f.rows {
		if activeOnly && !u.Logged {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (f *fakeUsers) ListActive(_ context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.list(true), nil
}

func (f *fakeUsers) ListAll(_ context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list(false), nil
}

func (f *fakeUsers) Remove(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return false, err
	}
	u := f.bySession(sessionID)
	if u == nil {
		return false, nil
	}
	delete(f.rows, u.UserID)
	return true, nil
}

func (f *fakeUsers) MarkIdle(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return 0, err
	}
	f.cutoffs = append(f.cutoffs, cutoff)
	var n int64
	for _, u := range f.rows {
		if u.Status == domain.StatusActive {
			u.Status = domain.StatusIdle
			n++
		}
	}
	return n, nil
}

func (f *fakeUsers) sweeps() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.cutoffs...)
}

type fakeConversations struct {
	mu      sync.Mutex
	rows    map[string]domain.Conversation
	saveErr error
	saves   int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{rows: make(map[string]domain.Conversation)}
}

func (f *fakeConversations) Get(_ context.Context, sessionID string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.rows[sessionID]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (f *fakeConversations) Create(_ context.Context, sessionID, username, transcript string, visits int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[sessionID]; ok {
		return false, nil
	}
	f.rows[sessionID] = domain.Conversation{SessionID: sessionID, Username: username, Visits: visits, ConversationHistory: transcript}
	return true, nil
}

func (f *fakeConversations) Update(_ context.Context, sessionID, transcript string, visits int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.rows[sessionID]
	if !ok {
		return false, nil
	}
	conv.ConversationHistory = transcript
	conv.Visits = visits
	f.rows[sessionID] = conv
	return true, nil
}

func (f *fakeConversations) Save(_ context.Context, sessionID, username, transcript string, visits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	conv, ok := f.rows[sessionID]
	if !ok {
		conv = domain.Conversation{SessionID: sessionID, Username: username}
	}
	conv.ConversationHistory = transcript
	conv.Visits = visits
	f.rows[sessionID] = conv
	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []flow.Request
}

func (f *fakeRunner) Run(_ context.Context, req flow.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

var (
	_ store.UserRegistry      = (*fakeUsers)(nil)
	_ store.ConversationStore = (*fakeConversations)(nil)
	_ flow.Runner             = (*fakeRunner)(nil)
)
