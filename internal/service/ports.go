package service

import (
	"context"

	"random-chat-be/internal/entity"
	"random-chat-be/pkg/dialogue"
)

// Transport delivers to connected users. Implementations return errors wrapping
// ErrUnreachable or ErrBadRequest.
type Transport interface {
	SendText(ctx context.Context, userId int64, text string) error
	SendTypingIndicator(ctx context.Context, userId int64) error
	RelayPayload(ctx context.Context, fromUserId, toUserId int64, payload entity.Payload) error
}

// Automation is the conversational backend used when no human is available.
type Automation interface {
	StartDialogue() *dialogue.Handle
	SendAndAwaitReply(ctx context.Context, h *dialogue.Handle, text string) (string, error)
}
