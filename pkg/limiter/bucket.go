package limiter

import (
	"fmt"
	"math"
	"time"

	"github.com/flowforge/startlimit/pkg/model"
)

// Verdict is the outcome of an admission check.
type Verdict int

const (
	Admitted Verdict = iota + 1
	Declined
	Deferred
	Withdrawn
)

func (v Verdict) String() string {
	switch v {
	case Admitted:
		return "admitted"
	case Declined:
		return "declined"
	case Deferred:
		return "deferred"
	case Withdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	for _, candidate := range []Verdict{Admitted, Declined, Deferred, Withdrawn} {
		if candidate.String() == string(text) {
			*v = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", text)
}

// BucketState is the rate-budget state of one limit.
type BucketState struct {
	Tokens      float64   `json:"tokens"`
	BurstTokens float64   `json:"burst_tokens"`
	LastRefill  time.Time `json:"last_refill"`
	LastDebit   time.Time `json:"last_debit"`
	BannedUntil time.Time `json:"banned_until"`
}

// Bucket is a token bucket with a one-shot burst reserve and a ban window.
// Steady-state tokens refill linearly at count/window; the burst reserve is
// only restored after a full window without any debit.
//
// A Bucket is not safe for concurrent use; the owning registry entry
// serializes access.
type Bucket struct {
	count        float64
	window       time.Duration
	burst        float64
	maxBurstCost float64
	state        BucketState
}

// NewBucket returns a full bucket for def.
func NewBucket(def *model.LimitDefinition, now time.Time) *Bucket {
	b := &Bucket{}
	b.configure(def)
	b.state = BucketState{
		Tokens:      b.count,
		BurstTokens: b.burst,
		LastRefill:  now,
	}
	return b
}

func (b *Bucket) configure(def *model.LimitDefinition) {
	b.count = float64(def.Count)
	b.window = def.WindowDuration()
	b.burst = float64(def.Burst)
	b.maxBurstCost = float64(def.MaxBurstCost)
}

// Reconfigure applies refreshed parameters, clamping balances to the new caps.
func (b *Bucket) Reconfigure(def *model.LimitDefinition) {
	b.configure(def)
	if b.state.Tokens > b.count {
		b.state.Tokens = b.count
	}
	if b.state.BurstTokens > b.burst {
		b.state.BurstTokens = b.burst
	}
}

func (b *Bucket) State() BucketState {
	return b.state
}

func (b *Bucket) Banned(now time.Time) bool {
	return now.Before(b.state.BannedUntil)
}

// Refill advances the balances to now.
func (b *Bucket) Refill(now time.Time) {
	b.state = b.refilled(b.state, now)
}

func (b *Bucket) refilled(s BucketState, now time.Time) BucketState {
	elapsed := now.Sub(s.LastRefill)
	if elapsed <= 0 {
		return s
	}
	if b.window > 0 {
		s.Tokens += elapsed.Seconds() * b.count / b.window.Seconds()
	}
	if s.Tokens > b.count {
		s.Tokens = b.count
	}
	if now.Sub(s.LastDebit) >= b.window {
		s.BurstTokens = b.burst
	}
	s.LastRefill = now
	return s
}

// TryDebit charges cost against the bucket. A banned bucket declines without
// refilling; an exhausted bucket declines and starts a ban of banWindow.
func (b *Bucket) TryDebit(now time.Time, cost float64, banWindow time.Duration) Verdict {
	next, verdict := b.decide(now, cost, banWindow)
	b.state = next
	return verdict
}

// decide computes the outcome of a debit without applying it.
func (b *Bucket) decide(now time.Time, cost float64, banWindow time.Duration) (BucketState, Verdict) {
	s := b.state
	if now.Before(s.BannedUntil) {
		return s, Declined
	}

	s = b.refilled(s, now)

	if s.Tokens >= cost {
		s.Tokens -= cost
		s.LastDebit = now
		return s, Admitted
	}

	shortfall := cost - s.Tokens
	if shortfall <= b.maxBurstCost && shortfall <= s.BurstTokens {
		s.BurstTokens -= shortfall
		s.Tokens = 0
		s.LastDebit = now
		return s, Admitted
	}

	if banWindow > 0 {
		s.BannedUntil = now.Add(banWindow)
	}
	return s, Declined
}

func (b *Bucket) valid() bool {
	s := b.state
	return !badBalance(s.Tokens) && !badBalance(s.BurstTokens) &&
		s.Tokens <= b.count && s.BurstTokens <= b.burst
}

func badBalance(f float64) bool {
	return f < 0 || math.IsNaN(f) || math.IsInf(f, 0)
}

// reset rebuilds the bucket empty after an invariant violation.
func (b *Bucket) reset(now time.Time) {
	b.state = BucketState{LastRefill: now, LastDebit: now}
}
