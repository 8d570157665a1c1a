package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"random-chat-be/internal/entity"
	"random-chat-be/internal/pkg/serverutils"
)

var ErrInvalidFrame = errors.New("invalid frame")

const (
	FrameTypeCommand = "command"
	FrameTypeMessage = "message"

	FrameTypeText   = "text"
	FrameTypeTyping = "typing"
	FrameTypeRelay  = "relay"

	// MaxTextLength bounds InboundFrame.Text in runes; keep the validate tag in sync.
	MaxTextLength = 4096
)

// Button labels and slash commands that older clients send as plain text.
var commandAliases = map[string]entity.Command{
	"/start":         entity.CommandStart,
	"/next":          entity.CommandNext,
	"next":           entity.CommandNext,
	"/stop":          entity.CommandStop,
	"stop":           entity.CommandStop,
	"stop searching": entity.CommandStop,
}

// InboundFrame is what a client sends, over the websocket or POST /api/users/:id/events.
type InboundFrame struct {
	Type       string          `json:"type" validate:"required,oneof=command message"`
	Command    string          `json:"command,omitempty" validate:"omitempty,oneof=start next stop"`
	Text       string          `json:"text,omitempty" validate:"max=4096"`
	Attachment json.RawMessage `json:"attachment,omitempty"`
}

func DecodeInboundFrame(data []byte) (*InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return &frame, nil
}

// ToEvent validates the frame and turns it into the tagged event the session
// controller consumes. Text matching a known alias becomes a command.
func (f *InboundFrame) ToEvent(userId int64) (entity.InboundEvent, error) {
	if err := serverutils.ValidateRequest(f); err != nil {
		return entity.InboundEvent{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch f.Type {
	case FrameTypeCommand:
		if f.Command == "" {
			return entity.InboundEvent{}, fmt.Errorf("%w: command is required", ErrInvalidFrame)
		}
		return entity.NewCommandEvent(userId, entity.Command(f.Command)), nil
	default:
		if len(f.Attachment) == 0 {
			if cmd, ok := commandAliases[strings.ToLower(strings.TrimSpace(f.Text))]; ok {
				return entity.NewCommandEvent(userId, cmd), nil
			}
		}
		return entity.NewMessageEvent(userId, entity.Payload{Text: f.Text, Attachment: f.Attachment}), nil
	}
}

// OutboundFrame is what the server pushes to a client.
type OutboundFrame struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Attachment json.RawMessage `json:"attachment,omitempty"`
}

func TextFrame(text string) OutboundFrame {
	return OutboundFrame{Type: FrameTypeText, Text: text}
}

func TypingFrame() OutboundFrame {
	return OutboundFrame{Type: FrameTypeTyping}
}

func RelayFrame(payload entity.Payload) OutboundFrame {
	return OutboundFrame{Type: FrameTypeRelay, Text: payload.Text, Attachment: payload.Attachment}
}

// InboundEventMessage is the bus representation of a decoded inbound event.
type InboundEventMessage struct {
	UserId     int64           `json:"user_id"`
	Kind       string          `json:"kind"`
	Command    string          `json:"command,omitempty"`
	Text       string          `json:"text,omitempty"`
	Attachment json.RawMessage `json:"attachment,omitempty"`
}

func NewInboundEventMessage(event entity.InboundEvent) InboundEventMessage {
	msg := InboundEventMessage{UserId: event.UserId}
	switch event.Kind {
	case entity.InboundCommand:
		msg.Kind = FrameTypeCommand
		msg.Command = string(event.Command)
	case entity.InboundMessage:
		msg.Kind = FrameTypeMessage
		msg.Text = event.Payload.Text
		msg.Attachment = event.Payload.Attachment
	}
	return msg
}

func (m InboundEventMessage) ToEvent() (entity.InboundEvent, error) {
	switch m.Kind {
	case FrameTypeCommand:
		return entity.NewCommandEvent(m.UserId, entity.Command(m.Command)), nil
	case FrameTypeMessage:
		return entity.NewMessageEvent(m.UserId, entity.Payload{Text: m.Text, Attachment: m.Attachment}), nil
	default:
		return entity.InboundEvent{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidFrame, m.Kind)
	}
}
