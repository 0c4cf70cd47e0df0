package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageTimeLayout is the timestamp format stored with every transcript turn.
const MessageTimeLayout = "2006-01-02 15:04:05"

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is the persisted transcript of a single session.
type Conversation struct {
	SessionID           string    `json:"session_id"`
	Username            string    `json:"username"`
	SaveTime            time.Time `json:"save_time"`
	Visits              int       `json:"visits"`
	ConversationHistory string    `json:"conversation_history"`
}

// Transcript decodes the stored history.
func (c *Conversation) Transcript() (Transcript, error) {
	return ParseTranscript(c.ConversationHistory)
}

// Message is one chat turn.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Agent     string `json:"agent"`
}

// Transcript is the ordered, append-only list of turns of a session.
type Transcript []Message

// Append adds a turn stamped with now.
func (t Transcript) Append(role Role, content, agent string, now time.Time) Transcript {
	return append(t, Message{
		Role:      role,
		Content:   content,
		Timestamp: now.Format(MessageTimeLayout),
		Agent:     agent,
	})
}

// Encode serializes the whole transcript. An empty transcript encodes as "[]".
func (t Transcript) Encode() (string, error) {
	if t == nil {
		t = Transcript{}
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	return string(data), nil
}

// ParseTranscript decodes a stored history blob. Blank input yields an empty transcript.
func ParseTranscript(raw string) (Transcript, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Transcript{}, nil
	}
	var t Transcript
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if t == nil {
		t = Transcript{}
	}
	return t, nil
}
