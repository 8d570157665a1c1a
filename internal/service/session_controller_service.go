package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"random-chat-be/internal/config"
	"random-chat-be/internal/constant"
	"random-chat-be/internal/entity"
	"random-chat-be/internal/metrics"
	"random-chat-be/internal/pkg/logger"
	"random-chat-be/internal/repository/memory"
	pairingEvents "random-chat-be/pkg/pairing/events"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const moduleController = "SessionController"

// Reasons attached to broken pairs in metrics and lifecycle events.
const (
	reasonStart          = "start"
	reasonNext           = "next"
	reasonStop           = "stop"
	reasonRelayFailure   = "relay_failure"
	reasonBackendFailure = "backend_failure"
	reasonInactivity     = "inactivity"
	reasonUnreachable    = "unreachable"
	reasonError          = "error"
)

type ISessionController interface {
	HandleEvent(ctx context.Context, event entity.InboundEvent) error
	Shutdown()
}

// SessionController is the per-user state machine. It never holds a lock across
// users: every transition goes through an atomic store operation and timer
// callbacks re-read the store before acting.
type SessionController struct {
	store      IStateStore
	timers     *TimerRegistry
	sessions   *memory.ConversationRepository
	transport  Transport
	automation Automation
	publisher  pairingEvents.Publisher
	delay      ReplyDelayPolicy
	cfg        config.MatchConfig
	logger     logger.ILogger
	tracer     trace.Tracer

	// ctx outlives single events and is cancelled by Shutdown; background work
	// (timer callbacks, automation replies) runs under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSessionController wires the controller. automation may be nil, in which case
// match requests are refused with the unavailable message.
func NewSessionController(
	store IStateStore,
	timers *TimerRegistry,
	sessions *memory.ConversationRepository,
	transport Transport,
	automation Automation,
	publisher pairingEvents.Publisher,
	cfg config.MatchConfig,
	logger logger.ILogger,
) *SessionController {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionController{
		store:      store,
		timers:     timers,
		sessions:   sessions,
		transport:  transport,
		automation: automation,
		publisher:  publisher,
		delay:      NewReplyDelayPolicy(cfg),
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("random-chat-be/service/session"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// HandleEvent applies one decoded user event. Failures are resolved for the user
// before returning; the error is returned for logging only.
func (c *SessionController) HandleEvent(ctx context.Context, event entity.InboundEvent) error {
	ctx, span := c.tracer.Start(ctx, "SessionController.HandleEvent", trace.WithAttributes(
		attribute.Int64("chat.user_id", event.UserId),
		attribute.Int("chat.event_kind", int(event.Kind)),
		attribute.String("chat.command", string(event.Command)),
	))
	defer span.End()

	var err error
	switch event.Kind {
	case entity.InboundCommand:
		metrics.IncInbound("command")
		switch event.Command {
		case entity.CommandStart:
			err = c.requestMatch(ctx, event.UserId, false)
		case entity.CommandNext:
			err = c.requestMatch(ctx, event.UserId, true)
		case entity.CommandStop:
			err = c.stop(ctx, event.UserId)
		default:
			return fmt.Errorf("unknown command %q", event.Command)
		}
	case entity.InboundMessage:
		metrics.IncInbound("message")
		err = c.handleMessage(ctx, event.UserId, event.Payload)
	default:
		return fmt.Errorf("unknown event kind %d", event.Kind)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.resetAfterFailure(ctx, event.UserId, err)
	}
	return err
}

// Shutdown stops background automation work and drains the timers.
func (c *SessionController) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.timers.Close()
	c.wg.Wait()

	c.sessions.Flush()
	metrics.SetConversations(0)
	c.logger.Info(moduleController, "Session controller stopped", nil)
}

// --- Commands ---

func (c *SessionController) requestMatch(ctx context.Context, id int64, next bool) error {
	if next {
		c.notify(ctx, id, constant.MessageFindingNew)
	}
	if c.automation == nil {
		c.notify(ctx, id, constant.MessageAutomationDown)
		return nil
	}

	reason := reasonStart
	if next {
		reason = reasonNext
	}
	if err := c.teardown(ctx, id, reason); err != nil {
		return err
	}

	// Announced before the record turns SEARCHING: from then on a concurrent
	// searcher may claim id and send it the connected notice first.
	c.notify(ctx, id, constant.MessageSearching)
	if err := c.store.SetSearching(ctx, id); err != nil {
		return err
	}
	metrics.IncSearches()
	if c.publisher != nil {
		c.publisher.PublishSearchStarted(ctx, id)
	}

	partner, err := c.store.TryFormPair(ctx, id)
	if err != nil {
		return err
	}

	if partner.IsHuman() {
		c.timers.CancelSearchTimeout(id)
		c.timers.CancelSearchTimeout(partner.ID)
		c.onHumanPaired(ctx, id, partner.ID)
		return nil
	}

	c.timers.ScheduleSearchTimeout(id, c.cfg.SearchTimeout, func() {
		c.onSearchTimeout(id)
	})
	c.logger.Debug(moduleController, "Waiting for a partner", map[string]interface{}{
		"user_id": id,
		"timeout": c.cfg.SearchTimeout.String(),
	})
	return nil
}

func (c *SessionController) onHumanPaired(ctx context.Context, id, partnerId int64) {
	metrics.IncPairsFormed("human")
	if c.publisher != nil {
		c.publisher.PublishPairFormed(ctx, id, entity.HumanPartner(partnerId).String())
	}
	c.logger.Info(moduleController, "Users paired", map[string]interface{}{
		"user_id":    id,
		"partner_id": partnerId,
	})

	c.notify(ctx, id, constant.MessageConnected)
	if err := c.transport.SendText(ctx, partnerId, constant.MessageConnected); err != nil && isTransportFailure(err) {
		// The partner disappeared between being matched and hearing about it.
		c.logger.Warn(moduleController, "Matched partner unreachable", map[string]interface{}{
			"user_id":    id,
			"partner_id": partnerId,
			"error":      err.Error(),
		})
		// Breaking from the partner's side tells id the chat is over.
		c.abandon(ctx, partnerId)
	}
}

func (c *SessionController) stop(ctx context.Context, id int64) error {
	if err := c.teardown(ctx, id, reasonStop); err != nil {
		return err
	}
	c.notify(ctx, id, constant.MessageStopped)
	return nil
}

// teardown cancels everything owned by id and dissolves its pair. A human partner
// is told the chat ended and loses its timers too. A user that was only searching
// notifies nobody.
func (c *SessionController) teardown(ctx context.Context, id int64, reason string) error {
	c.timers.CancelAll(id)
	c.dropSession(id)

	former, err := c.store.BreakPair(ctx, id)
	if err != nil {
		return err
	}
	c.afterBreak(ctx, id, former, reason, true)
	return nil
}

func (c *SessionController) afterBreak(ctx context.Context, id int64, former entity.Partner, reason string, notifyPartner bool) {
	if former.IsNone() {
		return
	}

	metrics.IncPairsBroken(reason)
	if c.publisher != nil {
		c.publisher.PublishPairBroken(ctx, id, former.String(), reason)
	}
	c.logger.Info(moduleController, "Pair broken", map[string]interface{}{
		"user_id": id,
		"partner": former.String(),
		"reason":  reason,
	})

	if former.IsHuman() {
		c.timers.CancelAll(former.ID)
		if notifyPartner {
			c.notify(ctx, former.ID, constant.MessagePartnerLeft)
		}
	}
}

// --- Messages ---

func (c *SessionController) handleMessage(ctx context.Context, id int64, payload entity.Payload) error {
	partner, err := c.store.GetPartner(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case partner.IsHuman():
		return c.relay(ctx, id, partner.ID, payload)
	case partner.IsAutomation():
		return c.forwardToAutomation(ctx, id, payload)
	default:
		// IDLE and SEARCHING alike; the search timer is left alone.
		c.notify(ctx, id, constant.MessageNotConnected)
		return nil
	}
}

func (c *SessionController) relay(ctx context.Context, id, partnerId int64, payload entity.Payload) error {
	err := c.transport.RelayPayload(ctx, id, partnerId, payload)
	if err == nil {
		return nil
	}
	if !isTransportFailure(err) {
		return fmt.Errorf("relay to %d: %w", partnerId, err)
	}

	metrics.IncRelayFailures()
	c.logger.Warn(moduleController, "Relay failed, partner treated as gone", map[string]interface{}{
		"user_id":    id,
		"partner_id": partnerId,
		"error":      fmt.Errorf("%w: %v", ErrPartnerUnreachable, err).Error(),
	})

	c.notify(ctx, id, constant.MessageRelayFailed)
	return c.teardown(ctx, id, reasonRelayFailure)
}

func (c *SessionController) forwardToAutomation(ctx context.Context, id int64, payload entity.Payload) error {
	if payload.Text == "" {
		c.logger.Debug(moduleController, "Non-text message to automation ignored", map[string]interface{}{"user_id": id})
		return nil
	}
	if c.automation == nil {
		return fmt.Errorf("%w: automation not configured", ErrBackendFailure)
	}

	c.timers.CancelInactivityEscalation(id)
	session := c.sessionFor(id)

	if err := c.transport.SendTypingIndicator(ctx, id); err != nil && isTransportFailure(err) {
		c.abandon(ctx, id)
		return nil
	}

	parent := trace.SpanContextFromContext(ctx)
	c.spawn(func(bg context.Context) {
		bg = trace.ContextWithSpanContext(bg, parent)
		c.replyFromAutomation(bg, id, session, payload.Text)
	})
	return nil
}

func (c *SessionController) replyFromAutomation(ctx context.Context, id int64, session *entity.ConversationSession, text string) {
	ctx, span := c.tracer.Start(ctx, "SessionController.AutomationReply", trace.WithAttributes(
		attribute.Int64("chat.user_id", id),
	))
	defer span.End()

	var reply string
	var err error
	metrics.TimeFunc(metrics.AutomationLatency, func() {
		reply, err = c.automation.SendAndAwaitReply(ctx, session.Dialogue, text)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		c.backendFailed(ctx, id, session, err)
		return
	}

	delay := c.delay.Delay(reply)
	metrics.ObserveReplyDelay(delay)
	if !c.sleep(ctx, delay) {
		return
	}

	if !c.ownsSession(ctx, id, session) {
		c.releaseSession(session, "reply")
		return
	}
	if err := c.transport.SendText(ctx, id, reply); err != nil {
		if isTransportFailure(err) {
			c.abandon(ctx, id)
		}
		return
	}

	c.sessions.Touch(id)
	c.scheduleEscalation(id)
}

// --- Timers ---

func (c *SessionController) onSearchTimeout(id int64) {
	ctx, span := c.tracer.Start(c.ctx, "SessionController.SearchTimeout", trace.WithAttributes(
		attribute.Int64("chat.user_id", id),
	))
	defer span.End()

	if c.automation == nil {
		return
	}

	paired, err := c.store.SetAutomationPair(ctx, id)
	if err != nil {
		span.RecordError(err)
		c.resetAfterFailure(ctx, id, err)
		return
	}
	if !paired {
		metrics.IncStaleFires("search")
		c.logger.Debug(moduleController, "Stale search timeout ignored", map[string]interface{}{"user_id": id})
		return
	}

	metrics.IncPairsFormed("automation")
	if c.publisher != nil {
		c.publisher.PublishPairFormed(ctx, id, entity.AutomationPartner.String())
	}
	c.logger.Info(moduleController, "No human partner, paired with automation", map[string]interface{}{"user_id": id})

	// A stop or restart that committed after the pairing tore down before this
	// session existed, so ownership is confirmed once it is stored.
	session := c.newSession(id)
	if !c.stillWithAutomation(ctx, id) {
		c.releaseSession(session, "search")
		return
	}
	c.runOpener(ctx, id, session)
}

// runOpener plays the scripted start of an automation chat: connected, a pause,
// typing, another pause, the opener, then the inactivity escalation.
func (c *SessionController) runOpener(ctx context.Context, id int64, session *entity.ConversationSession) {
	if err := c.transport.SendText(ctx, id, constant.MessageConnected); err != nil {
		if isTransportFailure(err) {
			c.abandon(ctx, id)
		}
		return
	}

	if !c.sleep(ctx, c.cfg.OpenerTypingDelay) {
		return
	}
	if !c.ownsSession(ctx, id, session) {
		c.releaseSession(session, "opener")
		return
	}
	if err := c.transport.SendTypingIndicator(ctx, id); err != nil && isTransportFailure(err) {
		c.abandon(ctx, id)
		return
	}

	if !c.sleep(ctx, c.cfg.OpenerSendDelay) {
		return
	}
	if !c.ownsSession(ctx, id, session) {
		c.releaseSession(session, "opener")
		return
	}
	if err := c.transport.SendText(ctx, id, constant.AutomationOpener); err != nil {
		if isTransportFailure(err) {
			c.abandon(ctx, id)
		}
		return
	}

	c.scheduleEscalation(id)
}

func (c *SessionController) scheduleEscalation(id int64) {
	c.timers.ScheduleInactivityEscalation(id, c.cfg.InactivityStages, func(stage int, final bool) bool {
		return c.onInactivityStage(id, stage, final)
	})
}

func (c *SessionController) onInactivityStage(id int64, stage int, final bool) bool {
	ctx, span := c.tracer.Start(c.ctx, "SessionController.InactivityStage", trace.WithAttributes(
		attribute.Int64("chat.user_id", id),
		attribute.Int("chat.stage", stage),
		attribute.Bool("chat.final", final),
	))
	defer span.End()

	if !c.stillWithAutomation(ctx, id) {
		metrics.IncStaleFires("inactivity")
		return false
	}

	if final {
		c.notify(ctx, id, constant.MessageInactivityFarewell)
		c.dropSession(id)
		former, err := c.store.BreakPair(ctx, id)
		if err != nil {
			c.resetAfterFailure(ctx, id, err)
			return false
		}
		c.afterBreak(ctx, id, former, reasonInactivity, false)
		return false
	}

	session := c.sessionFor(id)
	nudge, err := c.automation.SendAndAwaitReply(ctx, session.Dialogue, constant.NudgePrompt(stage))
	if err != nil {
		if ctx.Err() == nil {
			c.backendFailed(ctx, id, session, err)
		}
		return false
	}

	if !c.ownsSession(ctx, id, session) {
		c.releaseSession(session, "inactivity")
		return false
	}
	if err := c.transport.SendText(ctx, id, nudge); err != nil {
		if isTransportFailure(err) {
			c.abandon(ctx, id)
		}
		return false
	}

	metrics.IncNudges()
	if c.publisher != nil {
		c.publisher.PublishNudgeSent(ctx, id, stage+1)
	}
	return true
}

// --- Failure handling ---

func (c *SessionController) backendFailed(ctx context.Context, id int64, session *entity.ConversationSession, err error) {
	metrics.IncBackendFailures()
	c.logger.Error(moduleController, "Automation backend failed", map[string]interface{}{
		"user_id": id,
		"error":   fmt.Errorf("%w: %v", ErrBackendFailure, err).Error(),
	})

	if !c.ownsSession(ctx, id, session) {
		return
	}
	c.notify(ctx, id, constant.MessageAutomationProblem)
	if err := c.teardown(ctx, id, reasonBackendFailure); err != nil {
		c.resetAfterFailure(ctx, id, err)
	}
}

// abandon ends the pair of a user that can no longer be reached, without trying
// to talk to them.
func (c *SessionController) abandon(ctx context.Context, id int64) {
	c.logger.Warn(moduleController, "User unreachable, ending their chat", map[string]interface{}{"user_id": id})
	if err := c.teardown(ctx, id, reasonUnreachable); err != nil {
		c.logger.Error(moduleController, "Failed to end chat of unreachable user", map[string]interface{}{
			"user_id": id,
			"error":   err.Error(),
		})
	}
}

// resetAfterFailure forces the user back to IDLE after an unrecoverable failure and tells
// them to start again. A store that is still failing leaves the record as is.
func (c *SessionController) resetAfterFailure(ctx context.Context, id int64, cause error) {
	c.logger.Error(moduleController, "Unrecoverable failure, resetting user", map[string]interface{}{
		"user_id":  id,
		"error":    cause.Error(),
		"conflict": errors.Is(cause, ErrStoreConflict),
	})

	c.timers.CancelAll(id)
	c.dropSession(id)

	if former, err := c.store.BreakPair(ctx, id); err != nil {
		c.logger.Error(moduleController, "Failed to reset user", map[string]interface{}{
			"user_id": id,
			"error":   err.Error(),
		})
	} else {
		c.afterBreak(ctx, id, former, reasonError, true)
	}

	c.notify(ctx, id, constant.MessageInternalError)
}

// --- Helpers ---

func (c *SessionController) notify(ctx context.Context, id int64, text string) {
	if err := c.transport.SendText(ctx, id, text); err != nil {
		c.logger.Warn(moduleController, "Failed to deliver message", map[string]interface{}{
			"user_id": id,
			"error":   err.Error(),
		})
	}
}

func (c *SessionController) stillWithAutomation(ctx context.Context, id int64) bool {
	partner, err := c.store.GetPartner(ctx, id)
	if err != nil {
		c.logger.Warn(moduleController, "Failed to read partner", map[string]interface{}{
			"user_id": id,
			"error":   err.Error(),
		})
		return false
	}
	return partner.IsAutomation()
}

// ownsSession reports whether id is still with the automation in the same
// conversation; a new automation pair in between gets a new session.
func (c *SessionController) ownsSession(ctx context.Context, id int64, session *entity.ConversationSession) bool {
	current, ok := c.sessions.Get(id)
	if !ok || current != session {
		return false
	}
	return c.stillWithAutomation(ctx, id)
}

func (c *SessionController) newSession(id int64) *entity.ConversationSession {
	session := &entity.ConversationSession{
		UserId:    id,
		Dialogue:  c.automation.StartDialogue(),
		StartedAt: time.Now(),
	}
	c.sessions.Save(session)
	metrics.SetConversations(c.sessions.Count())
	return session
}

// sessionFor returns the live session of id, creating one if the process lost it.
func (c *SessionController) sessionFor(id int64) *entity.ConversationSession {
	if session, ok := c.sessions.Get(id); ok {
		return session
	}
	return c.newSession(id)
}

// releaseSession discards a session whose owner lost the automation pair, unless
// a newer session has already replaced it.
func (c *SessionController) releaseSession(session *entity.ConversationSession, kind string) {
	metrics.IncStaleFires(kind)
	if c.sessions.DeleteIf(session) {
		metrics.SetConversations(c.sessions.Count())
	}
	c.logger.Debug(moduleController, "Stale automation work discarded", map[string]interface{}{
		"user_id": session.UserId,
		"kind":    kind,
	})
}

func (c *SessionController) dropSession(id int64) {
	c.sessions.Delete(id)
	metrics.SetConversations(c.sessions.Count())
}

func (c *SessionController) spawn(fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

func (c *SessionController) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
