package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"random-chat-be/internal/config"
	"random-chat-be/internal/constant"
	"random-chat-be/internal/entity"
	"random-chat-be/internal/pkg/logger"
	"random-chat-be/internal/repository/memory"
	"random-chat-be/pkg/dialogue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	outText   = "text"
	outTyping = "typing"
	outRelay  = "relay"
)

type outbound struct {
	Kind string
	From int64
	Text string
	At   time.Time
}

type fakeTransport struct {
	mu          sync.Mutex
	sent        map[int64][]outbound
	unreachable map[int64]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:        make(map[int64][]outbound),
		unreachable: make(map[int64]bool),
	}
}

func (f *fakeTransport) record(to int64, o outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable[to] {
		return fmt.Errorf("user %d: %w", to, ErrUnreachable)
	}
	o.At = time.Now()
	f.sent[to] = append(f.sent[to], o)
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, userId int64, text string) error {
	return f.record(userId, outbound{Kind: outText, Text: text})
}

func (f *fakeTransport) SendTypingIndicator(_ context.Context, userId int64) error {
	return f.record(userId, outbound{Kind: outTyping})
}

func (f *fakeTransport) RelayPayload(_ context.Context, from, to int64, payload entity.Payload) error {
	return f.record(to, outbound{Kind: outRelay, From: from, Text: payload.Text})
}

func (f *fakeTransport) setUnreachable(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable[id] = true
}

func (f *fakeTransport) messages(id int64) []outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outbound(nil), f.sent[id]...)
}

func (f *fakeTransport) texts(id int64) []string {
	var out []string
	for _, o := range f.messages(id) {
		if o.Kind == outText {
			out = append(out, o.Text)
		}
	}
	return out
}

func (f *fakeTransport) countText(id int64, text string) int {
	n := 0
	for _, t := range f.texts(id) {
		if t == text {
			n++
		}
	}
	return n
}

func (f *fakeTransport) hasText(id int64, text string) bool {
	return f.countText(id, text) > 0
}

// fakeAutomation answers nudge prompts with "nudge-N" and everything else with
// "re: <text>".
type fakeAutomation struct {
	mu      sync.Mutex
	prompts []string
	fail    bool
	nudges  int
}

func (a *fakeAutomation) StartDialogue() *dialogue.Handle {
	return &dialogue.Handle{}
}

func (a *fakeAutomation) SendAndAwaitReply(_ context.Context, _ *dialogue.Handle, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, text)
	if a.fail {
		return "", fmt.Errorf("%w: quota exceeded", dialogue.ErrBackend)
	}
	for _, p := range constant.NudgePrompts {
		if text == p {
			a.nudges++
			return fmt.Sprintf("nudge-%d", a.nudges), nil
		}
	}
	return "re: " + text, nil
}

func testMatchConfig() config.MatchConfig {
	return config.MatchConfig{
		SearchTimeout:     40 * time.Millisecond,
		OpenerTypingDelay: 5 * time.Millisecond,
		OpenerSendDelay:   5 * time.Millisecond,
		InactivityStages:  []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour},
		ReplyBaseDelay:    time.Millisecond,
		ReplyPerCharDelay: 0,
		ReplyMaxJitter:    0,
		ReplyMaxDelay:     10 * time.Millisecond,
		StoreMaxRetries:   5,
	}
}

type harness struct {
	ctrl       *SessionController
	store      IStateStore
	timers     *TimerRegistry
	transport  *fakeTransport
	automation *fakeAutomation
}

func newHarness(t *testing.T, cfg config.MatchConfig, withAutomation bool) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, withAutomation, nil)
}

// newHarnessWithStore lets a test wrap the state store, e.g. to interleave
// another event right after a transition commits.
func newHarnessWithStore(t *testing.T, cfg config.MatchConfig, withAutomation bool, wrap func(IStateStore) IStateStore) *harness {
	t.Helper()
	log := logger.NewNopLogger()
	var store IStateStore = NewStateStore(memory.NewChatUserStore(), cfg.StoreMaxRetries, log)
	if wrap != nil {
		store = wrap(store)
	}
	timers := NewTimerRegistry(log)
	transport := newFakeTransport()
	automation := &fakeAutomation{}

	var auto Automation
	if withAutomation {
		auto = automation
	}

	ctrl := NewSessionController(store, timers, memory.NewConversationRepository(time.Hour), transport, auto, nil, cfg, log)
	ctrl.delay.Jitter = func() float64 { return 0 }
	t.Cleanup(ctrl.Shutdown)

	return &harness{ctrl: ctrl, store: store, timers: timers, transport: transport, automation: automation}
}

// hookedStore runs a callback right after selected transitions commit.
type hookedStore struct {
	IStateStore
	afterSearching      func(id int64)
	afterAutomationPair func(id int64)
}

func (s *hookedStore) SetSearching(ctx context.Context, id int64) error {
	if err := s.IStateStore.SetSearching(ctx, id); err != nil {
		return err
	}
	if s.afterSearching != nil {
		s.afterSearching(id)
	}
	return nil
}

func (s *hookedStore) SetAutomationPair(ctx context.Context, id int64) (bool, error) {
	paired, err := s.IStateStore.SetAutomationPair(ctx, id)
	if err == nil && paired && s.afterAutomationPair != nil {
		s.afterAutomationPair(id)
	}
	return paired, err
}

func (h *harness) command(t *testing.T, id int64, cmd entity.Command) {
	t.Helper()
	require.NoError(t, h.ctrl.HandleEvent(context.Background(), entity.NewCommandEvent(id, cmd)))
}

func (h *harness) say(t *testing.T, id int64, text string) {
	t.Helper()
	require.NoError(t, h.ctrl.HandleEvent(context.Background(), entity.NewMessageEvent(id, entity.Payload{Text: text})))
}

func (h *harness) state(t *testing.T, id int64) entity.UserState {
	t.Helper()
	s, err := h.store.GetState(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (h *harness) eventuallyState(t *testing.T, id int64, want entity.UserState) {
	t.Helper()
	assert.Eventually(t, func() bool {
		s, err := h.store.GetState(context.Background(), id)
		return err == nil && s == want
	}, 2*time.Second, 5*time.Millisecond, "user %d never reached %s", id, want)
}

// Scenario A
func TestTwoSearchersArePairedWithEachOther(t *testing.T) {
	cfg := testMatchConfig()
	cfg.SearchTimeout = time.Hour
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	assert.Equal(t, entity.UserStateSearching, h.state(t, 1))
	search, _ := h.timers.ActiveCounts()
	assert.Equal(t, 1, search)

	h.command(t, 2, entity.CommandStart)

	assert.Equal(t, entity.UserStatePairedHuman, h.state(t, 1))
	assert.Equal(t, entity.UserStatePairedHuman, h.state(t, 2))
	p, err := h.store.GetPartner(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.HumanPartner(2), p)

	search, _ = h.timers.ActiveCounts()
	assert.Equal(t, 0, search, "search timers of both users are cancelled")

	assert.Equal(t, []string{constant.MessageSearching, constant.MessageConnected}, h.transport.texts(1))
	assert.Equal(t, []string{constant.MessageSearching, constant.MessageConnected}, h.transport.texts(2))
}

// Scenario B
func TestSearchTimeoutPairsWithAutomation(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	h.command(t, 1, entity.CommandStart)
	h.eventuallyState(t, 1, entity.UserStatePairedAutomation)

	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, constant.AutomationOpener)
	}, time.Second, 5*time.Millisecond)

	msgs := h.transport.messages(1)
	require.Len(t, msgs, 4)
	assert.Equal(t, constant.MessageSearching, msgs[0].Text)
	assert.Equal(t, constant.MessageConnected, msgs[1].Text)
	assert.Equal(t, outTyping, msgs[2].Kind)
	assert.Equal(t, constant.AutomationOpener, msgs[3].Text)

	assert.Eventually(t, func() bool {
		_, n := h.timers.ActiveCounts()
		return n == 1
	}, time.Second, 5*time.Millisecond, "escalation starts after the opener")
}

// Scenario C
func TestInactivityEscalationNudgesTwiceThenDisconnects(t *testing.T) {
	cfg := testMatchConfig()
	cfg.InactivityStages = []time.Duration{30 * time.Millisecond, 60 * time.Millisecond, 90 * time.Millisecond}
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	h.eventuallyState(t, 1, entity.UserStatePairedAutomation)

	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, constant.MessageInactivityFarewell)
	}, 2*time.Second, 5*time.Millisecond)
	h.eventuallyState(t, 1, entity.UserStateIdle)

	texts := h.transport.texts(1)
	assert.Equal(t, 1, h.transport.countText(1, "nudge-1"))
	assert.Equal(t, 1, h.transport.countText(1, "nudge-2"))
	assert.Equal(t, constant.MessageInactivityFarewell, texts[len(texts)-1])

	s, n := h.timers.ActiveCounts()
	assert.Equal(t, 0, s)
	assert.Equal(t, 0, n)

	h.automation.mu.Lock()
	assert.Equal(t, []string{constant.NudgePrompt(0), constant.NudgePrompt(1)}, h.automation.prompts)
	h.automation.mu.Unlock()
}

// Scenario D
func TestMessageRestartsInactivityEscalation(t *testing.T) {
	cfg := testMatchConfig()
	cfg.InactivityStages = []time.Duration{40 * time.Millisecond, 160 * time.Millisecond, time.Hour}
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, "nudge-1")
	}, 2*time.Second, 5*time.Millisecond)

	h.say(t, 1, "sorry, was away")
	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, "re: sorry, was away")
	}, time.Second, 2*time.Millisecond)

	var repliedAt time.Time
	for _, m := range h.transport.messages(1) {
		if m.Text == "re: sorry, was away" {
			repliedAt = m.At
		}
	}

	// The fresh escalation starts over at its first stage.
	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, "nudge-2")
	}, 2*time.Second, 5*time.Millisecond)

	h.automation.mu.Lock()
	prompts := append([]string(nil), h.automation.prompts...)
	h.automation.mu.Unlock()
	require.Len(t, prompts, 3)
	assert.Equal(t, constant.NudgePrompt(0), prompts[0])
	assert.Equal(t, "sorry, was away", prompts[1])
	assert.Equal(t, constant.NudgePrompt(0), prompts[2])

	for _, m := range h.transport.messages(1) {
		if m.Text == "nudge-2" {
			assert.GreaterOrEqual(t, m.At.Sub(repliedAt), 35*time.Millisecond)
		}
	}
	assert.Equal(t, entity.UserStatePairedAutomation, h.state(t, 1))
}

// Scenario E
func TestNextNotifiesFormerPartner(t *testing.T) {
	cfg := testMatchConfig()
	cfg.SearchTimeout = time.Hour
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	h.command(t, 2, entity.CommandStart)
	require.Equal(t, entity.UserStatePairedHuman, h.state(t, 1))

	h.command(t, 2, entity.CommandNext)

	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
	assert.True(t, h.transport.hasText(1, constant.MessagePartnerLeft))

	assert.Equal(t, entity.UserStateSearching, h.state(t, 2))
	texts := h.transport.texts(2)
	assert.Equal(t, []string{constant.MessageFindingNew, constant.MessageSearching}, texts[len(texts)-2:])
}

func TestRapidNextNeverOrphansPairs(t *testing.T) {
	cfg := testMatchConfig()
	cfg.SearchTimeout = time.Hour
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	h.command(t, 2, entity.CommandStart)
	h.command(t, 3, entity.CommandStart)

	h.command(t, 1, entity.CommandNext)
	h.command(t, 1, entity.CommandNext)

	for _, id := range []int64{1, 2, 3} {
		p, err := h.store.GetPartner(context.Background(), id)
		require.NoError(t, err)
		if p.IsHuman() {
			back, err := h.store.GetPartner(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Equal(t, entity.HumanPartner(id), back)
		}
	}
}

func TestStopWhileSearching(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	h.command(t, 1, entity.CommandStart)
	h.command(t, 1, entity.CommandStop)

	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
	assert.Equal(t, []string{constant.MessageSearching, constant.MessageStopped}, h.transport.texts(1))

	// The search timeout was cancelled and must not pair with automation.
	time.Sleep(2 * testMatchConfig().SearchTimeout)
	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
	s, _ := h.timers.ActiveCounts()
	assert.Equal(t, 0, s)
}

func TestStopWhilePairedWithHuman(t *testing.T) {
	cfg := testMatchConfig()
	cfg.SearchTimeout = time.Hour
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	h.command(t, 2, entity.CommandStart)
	h.command(t, 1, entity.CommandStop)

	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
	assert.Equal(t, entity.UserStateIdle, h.state(t, 2))
	assert.True(t, h.transport.hasText(2, constant.MessagePartnerLeft))
	assert.True(t, h.transport.hasText(1, constant.MessageStopped))
}

func TestStopWhilePairedWithAutomationDropsSession(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	h.command(t, 1, entity.CommandStart)
	h.eventuallyState(t, 1, entity.UserStatePairedAutomation)
	assert.Eventually(t, func() bool {
		_, ok := h.ctrl.sessions.Get(1)
		return ok
	}, time.Second, 5*time.Millisecond)

	h.command(t, 1, entity.CommandStop)

	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
	_, ok := h.ctrl.sessions.Get(1)
	assert.False(t, ok)
	_, n := h.timers.ActiveCounts()
	assert.Equal(t, 0, n)
}

func TestStopRightAfterAutomationPairLeavesNoSession(t *testing.T) {
	hooked := &hookedStore{}
	h := newHarnessWithStore(t, testMatchConfig(), true, func(s IStateStore) IStateStore {
		hooked.IStateStore = s
		return hooked
	})
	var once sync.Once
	hooked.afterAutomationPair = func(id int64) {
		once.Do(func() {
			_ = h.ctrl.HandleEvent(context.Background(), entity.NewCommandEvent(id, entity.CommandStop))
		})
	}

	h.command(t, 1, entity.CommandStart)

	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, constant.MessageStopped)
	}, time.Second, 2*time.Millisecond)
	assert.Never(t, func() bool {
		return h.transport.hasText(1, constant.MessageConnected)
	}, 100*time.Millisecond, 5*time.Millisecond)

	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
	_, ok := h.ctrl.sessions.Get(1)
	assert.False(t, ok)
	assert.Equal(t, []string{constant.MessageSearching, constant.MessageStopped}, h.transport.texts(1))
	_, n := h.timers.ActiveCounts()
	assert.Equal(t, 0, n)
}

func TestClaimedWhileEnteringSearchSeesSearchingFirst(t *testing.T) {
	cfg := testMatchConfig()
	cfg.SearchTimeout = time.Hour
	hooked := &hookedStore{}
	h := newHarnessWithStore(t, cfg, true, func(s IStateStore) IStateStore {
		hooked.IStateStore = s
		return hooked
	})
	var once sync.Once
	hooked.afterSearching = func(id int64) {
		if id != 1 {
			return
		}
		once.Do(func() {
			_ = h.ctrl.HandleEvent(context.Background(), entity.NewCommandEvent(2, entity.CommandStart))
		})
	}

	h.command(t, 1, entity.CommandStart)

	assert.Equal(t, entity.UserStatePairedHuman, h.state(t, 1))
	assert.Equal(t, entity.UserStatePairedHuman, h.state(t, 2))
	assert.Equal(t, []string{constant.MessageSearching, constant.MessageConnected}, h.transport.texts(1))
	assert.Equal(t, []string{constant.MessageSearching, constant.MessageConnected}, h.transport.texts(2))
}

func TestRelayBetweenHumans(t *testing.T) {
	cfg := testMatchConfig()
	cfg.SearchTimeout = time.Hour
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	h.command(t, 2, entity.CommandStart)
	h.say(t, 1, "hello there")

	var relayed []outbound
	for _, m := range h.transport.messages(2) {
		if m.Kind == outRelay {
			relayed = append(relayed, m)
		}
	}
	require.Len(t, relayed, 1)
	assert.Equal(t, int64(1), relayed[0].From)
	assert.Equal(t, "hello there", relayed[0].Text)
}

func TestRelayFailureBreaksPair(t *testing.T) {
	cfg := testMatchConfig()
	cfg.SearchTimeout = time.Hour
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	h.command(t, 2, entity.CommandStart)
	h.transport.setUnreachable(2)

	h.say(t, 1, "anyone?")

	assert.True(t, h.transport.hasText(1, constant.MessageRelayFailed))
	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
	assert.Equal(t, entity.UserStateIdle, h.state(t, 2))
}

func TestMessageWhileNotConnected(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	h.say(t, 1, "hello?")
	assert.Equal(t, []string{constant.MessageNotConnected}, h.transport.texts(1))
	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
}

func TestMessageWhileSearchingKeepsSearchTimer(t *testing.T) {
	cfg := testMatchConfig()
	cfg.SearchTimeout = time.Hour
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	h.say(t, 1, "hello?")

	assert.Equal(t, entity.UserStateSearching, h.state(t, 1))
	s, _ := h.timers.ActiveCounts()
	assert.Equal(t, 1, s)
	assert.True(t, h.transport.hasText(1, constant.MessageNotConnected))
}

func TestAutomationReplyAndTyping(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	h.command(t, 1, entity.CommandStart)
	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, constant.AutomationOpener)
	}, time.Second, 5*time.Millisecond)

	before := len(h.transport.messages(1))
	h.say(t, 1, "hi")

	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, "re: hi")
	}, time.Second, 2*time.Millisecond)

	msgs := h.transport.messages(1)[before:]
	require.Len(t, msgs, 2)
	assert.Equal(t, outTyping, msgs[0].Kind)
	assert.Equal(t, "re: hi", msgs[1].Text)
}

func TestNonTextToAutomationIgnored(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	h.command(t, 1, entity.CommandStart)
	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, constant.AutomationOpener)
	}, time.Second, 5*time.Millisecond)

	before := len(h.transport.messages(1))
	require.NoError(t, h.ctrl.HandleEvent(context.Background(), entity.NewMessageEvent(1, entity.Payload{Attachment: []byte(`{"sticker":"x"}`)})))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.transport.messages(1), before)
	assert.Equal(t, entity.UserStatePairedAutomation, h.state(t, 1))
}

func TestAutomationFailureResetsUser(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	h.command(t, 1, entity.CommandStart)
	h.eventuallyState(t, 1, entity.UserStatePairedAutomation)

	h.automation.mu.Lock()
	h.automation.fail = true
	h.automation.mu.Unlock()

	h.say(t, 1, "hi")

	assert.Eventually(t, func() bool {
		return h.transport.hasText(1, constant.MessageAutomationProblem)
	}, time.Second, 2*time.Millisecond)
	h.eventuallyState(t, 1, entity.UserStateIdle)
}

func TestAutomationUnavailable(t *testing.T) {
	h := newHarness(t, testMatchConfig(), false)

	h.command(t, 1, entity.CommandStart)

	assert.Equal(t, []string{constant.MessageAutomationDown}, h.transport.texts(1))
	assert.Equal(t, entity.UserStateIdle, h.state(t, 1))
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	err := h.ctrl.HandleEvent(context.Background(), entity.NewCommandEvent(1, entity.Command("dance")))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dance"))
}

func TestUnreachableUserAfterAutomationPairIsDropped(t *testing.T) {
	h := newHarness(t, testMatchConfig(), true)

	h.command(t, 1, entity.CommandStart)
	h.transport.setUnreachable(1)

	assert.Eventually(t, func() bool {
		s, err := h.store.GetState(context.Background(), 1)
		return err == nil && s == entity.UserStateIdle
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := h.ctrl.sessions.Get(1)
	assert.False(t, ok)
}

func TestShutdownStopsBackgroundWork(t *testing.T) {
	cfg := testMatchConfig()
	cfg.OpenerTypingDelay = time.Hour
	h := newHarness(t, cfg, true)

	h.command(t, 1, entity.CommandStart)
	h.eventuallyState(t, 1, entity.UserStatePairedAutomation)

	done := make(chan struct{})
	go func() {
		h.ctrl.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown blocked on a sleeping opener")
	}

	s, n := h.timers.ActiveCounts()
	assert.Equal(t, 0, s)
	assert.Equal(t, 0, n)
}

func TestIsTransportFailure(t *testing.T) {
	assert.True(t, isTransportFailure(fmt.Errorf("x: %w", ErrUnreachable)))
	assert.True(t, isTransportFailure(fmt.Errorf("x: %w", ErrBadRequest)))
	assert.False(t, isTransportFailure(errors.New("x")))
}
