package entity

import (
	"time"

	"random-chat-be/pkg/dialogue"
)

// ConversationSession exists only while its user is PAIRED_AUTOMATION.
type ConversationSession struct {
	UserId    int64
	Dialogue  *dialogue.Handle
	StartedAt time.Time
}
