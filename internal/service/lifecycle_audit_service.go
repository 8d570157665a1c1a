package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"random-chat-be/internal/pkg/logger"
	"random-chat-be/pkg/events"
	pktNats "random-chat-be/pkg/nats"
)

const (
	lifecycleSubject = pktNats.SubjectPrefix + ".>"
	lifecycleDurable = "chat-lifecycle-audit"
)

type eventSubscriber interface {
	Subscribe(ctx context.Context, subject string, durableName string, handler pktNats.EventHandler) error
}

// LifecycleAuditService consumes the pairing lifecycle stream and writes an audit
// trail of it to the log, keeping per type counters.
type LifecycleAuditService struct {
	subscriber eventSubscriber
	logger     logger.ILogger

	mu     sync.Mutex
	counts map[string]int64
}

func NewLifecycleAuditService(sub *pktNats.Subscriber, log logger.ILogger) *LifecycleAuditService {
	s := &LifecycleAuditService{logger: log, counts: make(map[string]int64)}
	if sub != nil {
		s.subscriber = sub
	}
	return s
}

// Start begins listening to the event bus. Without a subscriber it does nothing.
func (s *LifecycleAuditService) Start(ctx context.Context) error {
	if s.subscriber == nil {
		return nil
	}
	if err := s.subscriber.Subscribe(ctx, lifecycleSubject, lifecycleDurable, s.handleEvent); err != nil {
		s.logger.Error("LifecycleAudit", "Failed to start lifecycle subscriber", map[string]interface{}{"error": err.Error()})
		return err
	}
	s.logger.Info("LifecycleAudit", "Listening to "+lifecycleSubject, nil)
	return nil
}

func (s *LifecycleAuditService) handleEvent(_ context.Context, event events.Event) error {
	typeCode := strings.TrimPrefix(event.EventType(), pktNats.SubjectPrefix+".")

	s.mu.Lock()
	s.counts[typeCode]++
	s.mu.Unlock()

	details := make(map[string]interface{}, len(event.Payload())+1)
	for k, v := range event.Payload() {
		details[k] = v
	}
	details["type"] = typeCode
	s.logger.Info("LifecycleAudit", fmt.Sprintf("Pairing event: %s", typeCode), details)
	return nil
}

// Counts returns a snapshot of events seen per type.
func (s *LifecycleAuditService) Counts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
