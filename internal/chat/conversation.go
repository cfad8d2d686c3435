package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conversation is the ordered message log plus append-only summaries.
// It is the only mutable state shared between a foreground turn and the
// background writers, so every mutation happens under the lock and through
// predicate-based update methods. Last-writer-wins field overwrites between
// a background writer and a newly started turn are accepted.
type Conversation struct {
	mu        sync.RWMutex
	id        string
	title     string
	messages  []Message
	summaries []Summary
	createdAt time.Time
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		id:        uuid.NewString(),
		createdAt: time.Now(),
	}
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string {
	return c.id
}

// Title returns the conversation title, empty until committed.
func (c *Conversation) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.title
}

// SetTitle commits the conversation title.
func (c *Conversation) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Append adds a message to the end of the log and returns its ID.
func (c *Conversation) Append(msg Message) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return msg.ID
}

// Messages returns a copy of the message log.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Last returns a copy of the last message, if any.
func (c *Conversation) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// UpdateByID applies fn to the message with the given ID.
// Returns false if no message matched.
func (c *Conversation) UpdateByID(id string, fn func(*Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			return true
		}
	}
	return false
}

// UpdateLast applies fn to the last message. Returns false on an empty log.
func (c *Conversation) UpdateLast(fn func(*Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return false
	}
	fn(&c.messages[len(c.messages)-1])
	return true
}

// UpdateLastOfRole applies fn to the most recent message with the given role.
func (c *Conversation) UpdateLastOfRole(role Role, fn func(*Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role {
			fn(&c.messages[i])
			return true
		}
	}
	return false
}

// TruncateFromLastModel drops the most recent model message and everything
// after it, returning a copy of the user message that immediately precedes
// the dropped region. Used by retry. Returns false if there is no model
// message or no preceding user message.
func (c *Conversation) TruncateFromLastModel() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lastModel := -1
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleModel {
			lastModel = i
			break
		}
	}
	if lastModel <= 0 {
		return Message{}, false
	}

	prior := c.messages[lastModel-1]
	if prior.Role != RoleUser {
		return Message{}, false
	}

	c.messages = c.messages[:lastModel]
	return prior, true
}

// Summaries returns a copy of the summary list.
func (c *Conversation) Summaries() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Summary, len(c.summaries))
	copy(out, c.summaries)
	return out
}

// AddSummaries appends summaries to the conversation. Summaries are
// append-only; serial numbering is the caller's responsibility.
func (c *Conversation) AddSummaries(s []Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, s...)
}

// TransientCount returns how many messages currently carry a transient flag.
// At most one message may be transient at any instant while a turn runs.
func (c *Conversation) TransientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for i := range c.messages {
		if c.messages[i].HasTransient() {
			n++
		}
	}
	return n
}
