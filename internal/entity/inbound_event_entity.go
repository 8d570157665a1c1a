package entity

import "encoding/json"

// Command is the closed set of user commands the session controller understands.
type Command string

const (
	CommandStart Command = "start"
	CommandNext  Command = "next"
	CommandStop  Command = "stop"
)

type InboundKind int

const (
	InboundCommand InboundKind = iota + 1
	InboundMessage
)

// Payload is an opaque chat message relayed verbatim between partners.
type Payload struct {
	Text       string
	Attachment json.RawMessage
}

// InboundEvent is an already decoded event from a user. Exactly one of Command or
// Payload is meaningful, depending on Kind.
type InboundEvent struct {
	UserId  int64
	Kind    InboundKind
	Command Command
	Payload Payload
}

func NewCommandEvent(userId int64, cmd Command) InboundEvent {
	return InboundEvent{UserId: userId, Kind: InboundCommand, Command: cmd}
}

func NewMessageEvent(userId int64, payload Payload) InboundEvent {
	return InboundEvent{UserId: userId, Kind: InboundMessage, Payload: payload}
}
