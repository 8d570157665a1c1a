package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"random-chat-be/internal/entity"
	"random-chat-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events map[int64][]string
	block  map[int64]chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: map[int64][]string{}, block: map[int64]chan struct{}{}}
}

func (h *recordingHandler) HandleEvent(_ context.Context, event entity.InboundEvent) error {
	h.mu.Lock()
	gate := h.block[event.UserId]
	h.mu.Unlock()
	if gate != nil {
		<-gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	label := string(event.Command)
	if event.Kind == entity.InboundMessage {
		label = event.Payload.Text
	}
	h.events[event.UserId] = append(h.events[event.UserId], label)
	return nil
}

func (h *recordingHandler) seen(id int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events[id]...)
}

func newTestDispatcher(t *testing.T, workers int, handler EventHandler) *InboundDispatcher {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	d := NewInboundDispatcher(pubSub, workers, handler, logger.NewNopLogger())
	require.NoError(t, d.Consume(context.Background()))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestInboundDispatcherKeepsPerUserOrder(t *testing.T) {
	handler := newRecordingHandler()
	d := newTestDispatcher(t, 4, handler)
	ctx := context.Background()

	var wg sync.WaitGroup
	for user := int64(1); user <= 6; user++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, d.Publish(ctx, entity.NewMessageEvent(user, entity.Payload{Text: fmt.Sprint(i)})))
			}
		}(user)
	}
	wg.Wait()

	for user := int64(1); user <= 6; user++ {
		got := handler.seen(user)
		require.Len(t, got, 20)
		for i, label := range got {
			assert.Equal(t, fmt.Sprint(i), label)
		}
	}
}

func TestInboundDispatcherUsersProceedIndependently(t *testing.T) {
	handler := newRecordingHandler()
	gate := make(chan struct{})
	handler.block[1] = gate
	d := newTestDispatcher(t, 2, handler)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, d.Publish(ctx, entity.NewCommandEvent(1, entity.CommandStart)))
	}()

	// user 2 lands on the other shard and is not held up by user 1
	require.NoError(t, d.Publish(ctx, entity.NewCommandEvent(2, entity.CommandStart)))
	assert.Equal(t, []string{"start"}, handler.seen(2))
	assert.Empty(t, handler.seen(1))

	close(gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked publish never returned")
	}
	assert.Equal(t, []string{"start"}, handler.seen(1))
}

func TestInboundDispatcherTopicFor(t *testing.T) {
	d := NewInboundDispatcher(nil, 3, nil, logger.NewNopLogger())
	assert.Equal(t, "chat.inbound.1", d.topicFor(4))
	assert.Equal(t, "chat.inbound.0", d.topicFor(9))
	assert.Equal(t, "chat.inbound.2", d.topicFor(-5))
}
