package pacing

import (
	"fmt"
	"math/rand"
	"time"
)

// Decision is the outcome of a pacing check performed before every send
// attempt.
type Decision string

const (
	Go               Decision = "GO"
	StopWindowClosed Decision = "STOP_WINDOW_CLOSED"
	StopCapReached   Decision = "STOP_CAP_REACHED"
)

func (d Decision) String() string { return string(d) }

// Reason returns the operator-facing explanation for a stop decision.
func (d Decision) Reason() string {
	switch d {
	case StopWindowClosed:
		return "outside the daily send window"
	case StopCapReached:
		return "daily send cap reached"
	default:
		return ""
	}
}

const (
	defaultWindowOpenHour  = 8
	defaultWindowCloseHour = 23
	defaultDailyCap        = 400
	defaultMinDelay        = 15 * time.Second
	defaultMaxDelay        = 55 * time.Second
)

// Policy decides whether the runner may attempt the next send and how long
// to wait between consecutive sends. It holds no mutable counters: the
// caller passes today's sent count, derived from the records, on every
// check. The clock and randomness are injectable for tests.
type Policy struct {
	Location        *time.Location
	WindowOpenHour  int
	WindowCloseHour int
	DailyCap        int
	MinDelay        time.Duration
	MaxDelay        time.Duration

	now      func() time.Time
	randIntn func(n int) int
}

// NewPolicy builds a policy with the given reference timezone, window hours
// and daily cap, falling back to defaults for zero values.
func NewPolicy(loc *time.Location, openHour, closeHour, dailyCap int, minDelay, maxDelay time.Duration) (*Policy, error) {
	if loc == nil {
		loc = time.UTC
	}
	if openHour == 0 && closeHour == 0 {
		openHour = defaultWindowOpenHour
		closeHour = defaultWindowCloseHour
	}
	if openHour < 0 || openHour > 23 || closeHour < 1 || closeHour > 24 || openHour >= closeHour {
		return nil, fmt.Errorf("invalid send window %02d:00-%02d:00", openHour, closeHour)
	}
	if dailyCap <= 0 {
		dailyCap = defaultDailyCap
	}
	if minDelay <= 0 {
		minDelay = defaultMinDelay
	}
	if maxDelay < minDelay {
		maxDelay = defaultMaxDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	return &Policy{
		Location:        loc,
		WindowOpenHour:  openHour,
		WindowCloseHour: closeHour,
		DailyCap:        dailyCap,
		MinDelay:        minDelay,
		MaxDelay:        maxDelay,
		now:             time.Now,
		randIntn:        rand.Intn,
	}, nil
}

// Check is evaluated before every attempt, never cached, because a paused
// run can resume across a day or window boundary. The window check takes
// precedence over the cap check.
func (p *Policy) Check(sentToday int) Decision {
	hour := p.now().In(p.Location).Hour()
	if hour < p.WindowOpenHour || hour >= p.WindowCloseHour {
		return StopWindowClosed
	}
	if sentToday >= p.DailyCap {
		return StopCapReached
	}
	return Go
}

// Delay draws the jittered inter-send delay uniformly from
// [MinDelay, MaxDelay].
func (p *Policy) Delay() time.Duration {
	spread := p.MaxDelay - p.MinDelay
	if spread <= 0 {
		return p.MinDelay
	}
	return p.MinDelay + time.Duration(p.randIntn(int(spread)+1))
}

// WithClock replaces the policy's clock and randomness sources. Intended
// for tests.
func (p *Policy) WithClock(now func() time.Time, randIntn func(n int) int) *Policy {
	if now != nil {
		p.now = now
	}
	if randIntn != nil {
		p.randIntn = randIntn
	}
	return p
}
