package service

import (
	"math/rand"
	"time"
	"unicode/utf8"

	"random-chat-be/internal/config"
)

// ReplyDelayPolicy makes automation replies arrive at a human typing pace:
// base + perChar*len(reply) + jitter, capped at Max.
type ReplyDelayPolicy struct {
	Base      time.Duration
	PerChar   time.Duration
	MaxJitter time.Duration
	Max       time.Duration

	// Jitter returns a value in [0, 1).
	Jitter func() float64
}

func NewReplyDelayPolicy(cfg config.MatchConfig) ReplyDelayPolicy {
	return ReplyDelayPolicy{
		Base:      cfg.ReplyBaseDelay,
		PerChar:   cfg.ReplyPerCharDelay,
		MaxJitter: cfg.ReplyMaxJitter,
		Max:       cfg.ReplyMaxDelay,
		Jitter:    rand.Float64,
	}
}

func (p ReplyDelayPolicy) Delay(reply string) time.Duration {
	jitter := 0.0
	if p.Jitter != nil {
		jitter = p.Jitter()
	}

	d := p.Base +
		time.Duration(utf8.RuneCountInString(reply))*p.PerChar +
		time.Duration(jitter*float64(p.MaxJitter))

	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if d < 0 {
		d = 0
	}
	return d
}
