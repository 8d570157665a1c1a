// Package metrics holds the Prometheus collectors of the matchmaking engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SearchesStarted   prometheus.Counter
	PairsFormed       *prometheus.CounterVec // kind=human|automation
	PairsBroken       *prometheus.CounterVec // reason=stop|next|relay_failure|backend_failure|inactivity|error
	NudgesSent        prometheus.Counter
	BackendFailures   prometheus.Counter
	RelayFailures     prometheus.Counter
	StoreConflicts    prometheus.Counter
	StaleTimerFires   *prometheus.CounterVec // timer=search|inactivity
	InboundEvents     *prometheus.CounterVec // kind=command|message

	// Histograms (seconds)
	ReplyDelay        prometheus.Observer
	AutomationLatency prometheus.Observer

	// Gauges
	ActiveSearchTimers     prometheus.Gauge
	ActiveInactivityTimers prometheus.Gauge
	ActiveConversations    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SearchesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_searches_started_total", Help: "Number of match requests"})
		PairsFormed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_pairs_formed_total", Help: "Pairs formed by partner kind"}, []string{"kind"})
		PairsBroken = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_pairs_broken_total", Help: "Pairs broken by reason"}, []string{"reason"})
		NudgesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_inactivity_nudges_total", Help: "Inactivity nudges delivered"})
		BackendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_automation_failures_total", Help: "Failed automation backend calls"})
		RelayFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_relay_failures_total", Help: "Failed relays between human partners"})
		StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_store_conflicts_total", Help: "Retried store transactions"})
		StaleTimerFires = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_stale_timer_fires_total", Help: "Timer callbacks that found the state already changed"}, []string{"timer"})
		InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_inbound_events_total", Help: "Decoded inbound events"}, []string{"kind"})
		ReplyDelay = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_reply_delay_seconds", Help: "Simulated typing delay before automation replies", Buckets: prometheus.LinearBuckets(1, 1, 10)})
		AutomationLatency = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_automation_latency_seconds", Help: "Automation backend call duration", Buckets: prometheus.DefBuckets})
		ActiveSearchTimers = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_active_search_timers", Help: "Live search timeout timers"})
		ActiveInactivityTimers = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_active_inactivity_timers", Help: "Live inactivity escalations"})
		ActiveConversations = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_active_conversations", Help: "Live automation conversation sessions"})
	})
}

func IncSearches() {
	if SearchesStarted != nil {
		SearchesStarted.Inc()
	}
}

func IncPairsFormed(kind string) {
	if PairsFormed != nil {
		PairsFormed.WithLabelValues(kind).Inc()
	}
}

func IncPairsBroken(reason string) {
	if PairsBroken != nil {
		PairsBroken.WithLabelValues(reason).Inc()
	}
}

func IncNudges() {
	if NudgesSent != nil {
		NudgesSent.Inc()
	}
}

func IncBackendFailures() {
	if BackendFailures != nil {
		BackendFailures.Inc()
	}
}

func IncRelayFailures() {
	if RelayFailures != nil {
		RelayFailures.Inc()
	}
}

func IncStoreConflicts() {
	if StoreConflicts != nil {
		StoreConflicts.Inc()
	}
}

func IncStaleFires(timer string) {
	if StaleTimerFires != nil {
		StaleTimerFires.WithLabelValues(timer).Inc()
	}
}

func IncInbound(kind string) {
	if InboundEvents != nil {
		InboundEvents.WithLabelValues(kind).Inc()
	}
}

func ObserveReplyDelay(d time.Duration) {
	if ReplyDelay != nil {
		ReplyDelay.Observe(d.Seconds())
	}
}

// SetTimers records the live timer counts.
func SetTimers(search, inactivity int) {
	if ActiveSearchTimers != nil {
		ActiveSearchTimers.Set(float64(search))
	}
	if ActiveInactivityTimers != nil {
		ActiveInactivityTimers.Set(float64(inactivity))
	}
}

func SetConversations(n int) {
	if ActiveConversations != nil {
		ActiveConversations.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
