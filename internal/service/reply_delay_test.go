package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplyDelay(t *testing.T) {
	p := ReplyDelayPolicy{
		Base:      1500 * time.Millisecond,
		PerChar:   50 * time.Millisecond,
		MaxJitter: 1500 * time.Millisecond,
		Max:       10 * time.Second,
		Jitter:    func() float64 { return 0 },
	}

	assert.Equal(t, 1500*time.Millisecond, p.Delay(""))
	assert.Equal(t, 2*time.Second, p.Delay("0123456789"))

	// Counted in characters, not bytes.
	assert.Equal(t, 1600*time.Millisecond, p.Delay("😂😂"))

	assert.Equal(t, 10*time.Second, p.Delay(strings.Repeat("a", 1000)))

	p.Jitter = func() float64 { return 0.5 }
	assert.Equal(t, 2250*time.Millisecond, p.Delay(""))
}

func TestReplyDelayMonotonic(t *testing.T) {
	p := ReplyDelayPolicy{
		Base:      time.Second,
		PerChar:   30 * time.Millisecond,
		MaxJitter: 0,
		Max:       5 * time.Second,
	}

	prev := time.Duration(0)
	for n := 0; n < 300; n += 7 {
		d := p.Delay(strings.Repeat("x", n))
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.Max)
		prev = d
	}
}
