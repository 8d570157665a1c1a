package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"random-chat-be/pkg/llm"

	"github.com/google/uuid"
)

// ErrBackend wraps every failure of the automation backend: transport errors,
// quota errors, malformed or empty replies.
var ErrBackend = errors.New("automation backend failure")

// Handle is a running dialogue with the backend. It keeps the exchanged turns so
// every call carries the full conversation.
type Handle struct {
	ID uuid.UUID

	mu      sync.Mutex
	history []llm.Message
}

// History returns a copy of the turns exchanged so far.
func (h *Handle) History() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]llm.Message, len(h.history))
	copy(out, h.history)
	return out
}

type Backend struct {
	provider     llm.LLMProvider
	systemPrompt string
	options      []llm.Option
}

func NewBackend(provider llm.LLMProvider, systemPrompt string, opts ...llm.Option) *Backend {
	return &Backend{
		provider:     provider,
		systemPrompt: systemPrompt,
		options:      opts,
	}
}

func (b *Backend) StartDialogue() *Handle {
	return &Handle{ID: uuid.New()}
}

// SendAndAwaitReply sends text as the next user turn and blocks until the backend
// answers. The turn pair is appended to the handle only on success, so a failed call
// leaves the dialogue as it was.
func (b *Backend) SendAndAwaitReply(ctx context.Context, h *Handle, text string) (string, error) {
	if h == nil {
		return "", fmt.Errorf("%w: nil dialogue handle", ErrBackend)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	messages := make([]llm.Message, 0, len(h.history)+2)
	if b.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: b.systemPrompt})
	}
	messages = append(messages, h.history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	reply, err := b.provider.Chat(ctx, messages, b.options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrBackend)
	}

	h.history = append(h.history,
		llm.Message{Role: llm.RoleUser, Content: text},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	return reply, nil
}
