package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/sv-explore/internal/identity"
)

const maxChatBody = 1 << 20

// RateLimiter implements a per-client sliding window limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.fresh(r.requests[key], now.Add(-r.window))

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

func (r *RateLimiter) fresh(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// startEviction periodically drops keys with no requests inside the window.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evict()
			case <-r.done:
				return
			}
		}
	}()
}

func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	for key, times := range r.requests {
		if fresh := r.fresh(times, cutoff); len(fresh) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = fresh
		}
	}
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// ChatHandler serves chat turns.
type ChatHandler struct {
	*Handler
	limiter *RateLimiter
}

// NewChatHandler creates a chat handler throttled by limiter.
func NewChatHandler(base *Handler, limiter *RateLimiter) *ChatHandler {
	return &ChatHandler{Handler: base, limiter: limiter}
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat sends one visitor message to the flow and returns the reply.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.TokenFromContext(r.Context())

	// Keyed by client IP, not token: tokens are free to mint.
	ip := identity.IPFromRequest(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		slog.Warn("Chat rate limit exceeded", "ip", ip, "session_id", sessionID)
		Error(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "message_too_large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid_request")
		return
	}

	reply, err := h.sessions.Chat(r.Context(), sessionID, req.Message)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if !reply.Saved {
		slog.Warn("Chat reply delivered without persisting transcript", "session_id", sessionID)
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"response": reply.Response,
		"history":  reply.History,
		"saved":    reply.Saved,
	})
}
