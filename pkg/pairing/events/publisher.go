package events

import (
	"context"
	"time"

	"random-chat-be/internal/pkg/logger"
	pkgEvents "random-chat-be/pkg/events"
	pktNats "random-chat-be/pkg/nats"
)

const (
	TypeSearchStarted = "SEARCH_STARTED"
	TypePairFormed    = "PAIR_FORMED"
	TypePairBroken    = "PAIR_BROKEN"
	TypeNudgeSent     = "NUDGE_SENT"
)

// Publisher abstracts publishing of pairing lifecycle events.
type Publisher interface {
	PublishSearchStarted(ctx context.Context, userId int64)
	PublishPairFormed(ctx context.Context, userId int64, partner string)
	PublishPairBroken(ctx context.Context, userId int64, partner string, reason string)
	PublishNudgeSent(ctx context.Context, userId int64, stage int)
}

type eventSink interface {
	Publish(ctx context.Context, event pkgEvents.Event) error
}

// NatsPublisher implements Publisher using NATS. A nil sink turns every call
// into a no-op, which is how the service runs without NATS_URL.
type NatsPublisher struct {
	publisher eventSink
	logger    logger.ILogger
}

func NewNatsPublisher(publisher *pktNats.Publisher, logger logger.ILogger) *NatsPublisher {
	p := &NatsPublisher{logger: logger}
	if publisher != nil {
		p.publisher = publisher
	}
	return p
}

func (p *NatsPublisher) emit(ctx context.Context, eventType string, data map[string]interface{}) {
	if p.publisher == nil {
		return
	}

	now := time.Now()
	data["occurred_at"] = now
	evt := pkgEvents.BaseEvent{
		Type:       eventType,
		Data:       data,
		OccurredAt: now,
	}

	if err := p.publisher.Publish(ctx, evt); err != nil {
		p.logger.Error("PAIRING_EVENTS", "Failed to publish "+eventType+" event", map[string]interface{}{"error": err.Error()})
	}
}

func (p *NatsPublisher) PublishSearchStarted(ctx context.Context, userId int64) {
	p.emit(ctx, TypeSearchStarted, map[string]interface{}{
		"user_id": userId,
	})
}

func (p *NatsPublisher) PublishPairFormed(ctx context.Context, userId int64, partner string) {
	p.emit(ctx, TypePairFormed, map[string]interface{}{
		"user_id": userId,
		"partner": partner,
	})
}

func (p *NatsPublisher) PublishPairBroken(ctx context.Context, userId int64, partner string, reason string) {
	p.emit(ctx, TypePairBroken, map[string]interface{}{
		"user_id": userId,
		"partner": partner,
		"reason":  reason,
	})
}

func (p *NatsPublisher) PublishNudgeSent(ctx context.Context, userId int64, stage int) {
	p.emit(ctx, TypeNudgeSent, map[string]interface{}{
		"user_id": userId,
		"stage":   stage,
	})
}
