// Package session holds the conversation log and its persistence.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CriticalRange/arula-go/internal/llm"
)

// titleMaxRunes bounds the derived conversation title.
const titleMaxRunes = 60

// Conversation is an append-only ordered message log. A single writer
// (the agent loop) appends; the autosave task and UI read value-copied
// snapshots.
type Conversation struct {
	mu sync.Mutex

	id        string
	title     string
	provider  string
	createdAt time.Time
	updatedAt time.Time
	messages  []llm.Message
}

// Snapshot is a value copy of the conversation state at one instant.
type Snapshot struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Provider  string        `json:"provider"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []llm.Message `json:"messages"`
}

// NewConversation creates an empty conversation for a provider label.
func NewConversation(provider string) *Conversation {
	now := time.Now()
	return &Conversation{
		id:        uuid.NewString(),
		provider:  provider,
		createdAt: now,
		updatedAt: now,
	}
}

// fromSnapshot reconstructs a conversation from persisted state.
func fromSnapshot(s Snapshot) *Conversation {
	return &Conversation{
		id:        s.ID,
		title:     s.Title,
		provider:  s.Provider,
		createdAt: s.CreatedAt,
		updatedAt: s.UpdatedAt,
		messages:  append([]llm.Message(nil), s.Messages...),
	}
}

// ID returns the stable conversation id.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Title returns the derived title, empty until the first user message.
func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Append adds a message, assigning an id and timestamp when absent, and
// returns the stored copy. The title is derived from the first user
// message.
func (c *Conversation) Append(msg llm.Message) llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.messages = append(c.messages, msg)
	c.updatedAt = time.Now()

	if c.title == "" && msg.Role == llm.RoleUser {
		c.title = deriveTitle(msg.Content)
	}
	return msg
}

// History returns a copy of the message log for building requests.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Snapshot returns a value copy for persistence or display.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:        c.id,
		Title:     c.title,
		Provider:  c.provider,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
		Messages:  append([]llm.Message(nil), c.messages...),
	}
}

// deriveTitle takes the first line of the first user message, trimmed
// and truncated to titleMaxRunes code points.
func deriveTitle(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + "…"
	}
	return line
}
