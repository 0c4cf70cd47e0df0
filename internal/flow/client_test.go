package flow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/sv-explore/internal/domain"
	"github.com/stretchr/testify/require"
)

const okResponse = `{"outputs":[{"outputs":[{"results":{"message":{"text":"Let's plan your visit."}}}]}]}`

func TestRunSendsPayloadAndParsesReply(t *testing.T) {
	var (
		gotPath    string
		gotKey     string
		gotPayload map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Endpoint: "trip-planner", APIKey: "secret", Timeout: time.Second}, nil)
	require.NoError(t, err)

	history := domain.Transcript{}.Append(domain.RoleUser, "hi", "user_1", time.Now())
	reply, err := c.Run(context.Background(), Request{
		Message:   "What should I see?",
		User:      "user_1",
		SessionID: "sess-1",
		History:   history,
	})
	require.NoError(t, err)
	require.Equal(t, "Let's plan your visit.", reply)

	require.Equal(t, "/api/v1/run/trip-planner", gotPath)
	require.Equal(t, "secret", gotKey)
	require.Equal(t, "What should I see?", gotPayload["input_value"])
	require.Equal(t, "chat", gotPayload["output_type"])
	require.Equal(t, "chat", gotPayload["input_type"])
	require.Equal(t, "user_1", gotPayload["user"])
	require.Equal(t, "sess-1", gotPayload["session_id"])
	require.Contains(t, gotPayload["conversation_history"], `"role":"user"`)
}

func TestRunOmitsEmptyHistory(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_, _ = w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Endpoint: "e"}, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), Request{Message: "hi", SessionID: "s"})
	require.NoError(t, err)
	require.NotContains(t, gotPayload, "conversation_history")
}

func TestRunInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outputs":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Endpoint: "e"}, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), Request{Message: "hi"})
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestRunStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flow exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Endpoint: "e"}, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), Request{Message: "hi"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.Code)
	require.Contains(t, statusErr.Body, "flow exploded")
}

func TestRunTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{BaseURL: srv.URL, Endpoint: "e", Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), Request{Message: "hi"})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "e"}, nil)
	require.Error(t, err)
	_, err = NewClient(Config{BaseURL: "not a url", Endpoint: "e"}, nil)
	require.Error(t, err)
}
