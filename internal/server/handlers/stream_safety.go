package handlers

import (
	"bytes"
	"errors"
	"time"
)

var (
	errRelayLooping = errors.New("upstream repeated the same chunk")
	errRelayStalled = errors.New("upstream went quiet")
)

// relayGuard stops a chat relay when upstream loops on one chunk or stalls
// between chunks. Empty chunks only refresh the stall clock.
type relayGuard struct {
	maxRepeats int
	maxGap     time.Duration
	now        func() time.Time

	last    []byte
	repeats int
	seenAt  time.Time
}

// newRelayGuard allows maxRepeats identical chunks in a row and maxGap between
// chunks. Non-positive values select 10 repeats and 5 minutes.
func newRelayGuard(maxRepeats int, maxGap time.Duration) *relayGuard {
	if maxRepeats <= 0 {
		maxRepeats = 10
	}
	if maxGap <= 0 {
		maxGap = 5 * time.Minute
	}
	return &relayGuard{maxRepeats: maxRepeats, maxGap: maxGap, now: time.Now}
}

func (g *relayGuard) observe(chunk []byte) error {
	at := g.now()
	stalled := !g.seenAt.IsZero() && at.Sub(g.seenAt) > g.maxGap
	g.seenAt = at
	if stalled {
		return errRelayStalled
	}
	if len(chunk) == 0 {
		return nil
	}
	if g.last != nil && bytes.Equal(chunk, g.last) {
		g.repeats++
		if g.repeats >= g.maxRepeats {
			return errRelayLooping
		}
		return nil
	}
	g.last = append(g.last[:0], chunk...)
	g.repeats = 0
	return nil
}
