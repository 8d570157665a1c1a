package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"random-chat-be/internal/dto"
	"random-chat-be/internal/entity"
	"random-chat-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

const inboundTopicPrefix = "chat.inbound"

// EventHandler consumes decoded inbound events. SessionController is the production one.
type EventHandler interface {
	HandleEvent(ctx context.Context, event entity.InboundEvent) error
}

type IInboundDispatcher interface {
	Publish(ctx context.Context, event entity.InboundEvent) error
	Consume(ctx context.Context) error
	Close() error
}

// InboundDispatcher fans inbound events out over a fixed number of topics keyed by
// user id. Each topic has exactly one consumer, so a user's events are handled one at
// a time and in order while different users proceed concurrently.
//
// The pub/sub must be created with BlockPublishUntilSubscriberAck, otherwise gochannel
// does not keep publish order within a topic.
type InboundDispatcher struct {
	pubSub  *gochannel.GoChannel
	workers int
	handler EventHandler
	logger  logger.ILogger
	wg      sync.WaitGroup
}

func NewInboundDispatcher(pubSub *gochannel.GoChannel, workers int, handler EventHandler, logger logger.ILogger) *InboundDispatcher {
	if workers < 1 {
		workers = 1
	}
	return &InboundDispatcher{
		pubSub:  pubSub,
		workers: workers,
		handler: handler,
		logger:  logger,
	}
}

func (d *InboundDispatcher) topicFor(userId int64) string {
	shard := userId % int64(d.workers)
	if shard < 0 {
		shard = -shard
	}
	return fmt.Sprintf("%s.%d", inboundTopicPrefix, shard)
}

// Publish returns once the event has been handled.
func (d *InboundDispatcher) Publish(ctx context.Context, event entity.InboundEvent) error {
	payload, err := json.Marshal(dto.NewInboundEventMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal inbound event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("user_id", fmt.Sprint(event.UserId))
	msg.SetContext(ctx)

	return d.pubSub.Publish(d.topicFor(event.UserId), msg)
}

// Consume subscribes one worker per shard. Workers exit when ctx is cancelled or the
// pub/sub is closed.
func (d *InboundDispatcher) Consume(ctx context.Context) error {
	for shard := 0; shard < d.workers; shard++ {
		topic := fmt.Sprintf("%s.%d", inboundTopicPrefix, shard)
		messages, err := d.pubSub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", topic, err)
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for msg := range messages {
				d.processMessage(ctx, msg)
			}
		}()
	}

	d.logger.Info("InboundDispatcher", "Inbound workers started", map[string]interface{}{
		"workers": d.workers,
	})
	return nil
}

func (d *InboundDispatcher) processMessage(ctx context.Context, msg *message.Message) {
	// Every failure is resolved for the user inside the handler, so nothing is redelivered.
	defer msg.Ack()

	var payload dto.InboundEventMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		d.logger.Error("InboundDispatcher", "Failed to unmarshal inbound event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		return
	}

	event, err := payload.ToEvent()
	if err != nil {
		d.logger.Warn("InboundDispatcher", "Dropping undecodable event", map[string]interface{}{
			"user_id": payload.UserId,
			"error":   err.Error(),
		})
		return
	}

	if err := d.handler.HandleEvent(ctx, event); err != nil {
		d.logger.Warn("InboundDispatcher", "Event handling failed", map[string]interface{}{
			"user_id": event.UserId,
			"error":   err.Error(),
		})
	}
}

// Close shuts the pub/sub down and waits for the workers to drain.
func (d *InboundDispatcher) Close() error {
	err := d.pubSub.Close()
	d.wg.Wait()
	return err
}
