package orchestration

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-voice/core/audio"
)

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrAudioAlreadyAttached = errors.New("message already has audio attached")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
	// Audio is attached once, either with the reply or after synthesis
	// finishes.
	Audio *audio.Clip
	// RawResponse holds the decoded agent payload for diagnostics.
	RawResponse any
}

type MessageOption func(*Message)

func WithMessageAudio(clip *audio.Clip) MessageOption {
	return func(m *Message) {
		if clip != nil && !clip.IsEmpty() {
			m.Audio = clip
		}
	}
}

func WithRawResponse(raw any) MessageOption {
	return func(m *Message) {
		m.RawResponse = raw
	}
}

// Conversation is the ordered message log of the current session. It is
// safe for concurrent use.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

func NewConversation() *Conversation {
	return &Conversation{}
}

func (c *Conversation) Append(role Role, text string, opts ...MessageOption) Message {
	message := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&message)
	}

	c.mu.Lock()
	c.messages = append(c.messages, message)
	c.mu.Unlock()

	return message
}

// AttachAudio sets the audio of a message that has none yet.
func (c *Conversation) AttachAudio(id string, clip audio.Clip) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.messages {
		if c.messages[i].ID != id {
			continue
		}
		if c.messages[i].Audio != nil {
			return fmt.Errorf("%s: %w", id, ErrAudioAlreadyAttached)
		}
		c.messages[i].Audio = &clip
		return nil
	}
	return fmt.Errorf("%s: %w", id, ErrMessageNotFound)
}

// Messages returns a deep copy of the log.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := make([]Message, 0, len(c.messages))
	if err := copier.CopyWithOption(&messages, &c.messages, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to deep copy messages", "error", err)
		messages = append(messages[:0], c.messages...)
	}
	return messages
}

// Message returns a deep copy of the message with the given id.
func (c *Conversation) Message(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, message := range c.messages {
		if message.ID != id {
			continue
		}
		var copied Message
		if err := copier.CopyWithOption(&copied, &message, copier.Option{DeepCopy: true}); err != nil {
			return message, true
		}
		return copied, true
	}
	return Message{}, false
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
