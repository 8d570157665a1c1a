package service

import (
	"context"
	"testing"
	"time"

	"random-chat-be/internal/pkg/logger"
	"random-chat-be/pkg/events"
	pktNats "random-chat-be/pkg/nats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubscriber struct {
	subject string
	durable string
	handler pktNats.EventHandler
}

func (s *stubSubscriber) Subscribe(_ context.Context, subject, durable string, handler pktNats.EventHandler) error {
	s.subject, s.durable, s.handler = subject, durable, handler
	return nil
}

func TestLifecycleAuditCountsEvents(t *testing.T) {
	sub := &stubSubscriber{}
	audit := &LifecycleAuditService{subscriber: sub, logger: logger.NewNopLogger(), counts: map[string]int64{}}
	ctx := context.Background()

	require.NoError(t, audit.Start(ctx))
	assert.Equal(t, "chat.>", sub.subject)
	require.NotNil(t, sub.handler)

	for _, typ := range []string{"PAIR_FORMED", "PAIR_FORMED", "PAIR_BROKEN"} {
		evt := events.BaseEvent{Type: typ, Data: map[string]interface{}{"user_id": 1}, OccurredAt: time.Now()}
		require.NoError(t, sub.handler(ctx, evt))
	}

	assert.Equal(t, map[string]int64{"PAIR_FORMED": 2, "PAIR_BROKEN": 1}, audit.Counts())
}

func TestLifecycleAuditWithoutSubscriber(t *testing.T) {
	audit := NewLifecycleAuditService(nil, logger.NewNopLogger())
	assert.NoError(t, audit.Start(context.Background()))
	assert.Empty(t, audit.Counts())
}
