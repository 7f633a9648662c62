package shopgraph

import (
	"errors"
	"math"
	"sync"
	"time"
)

// Default budget parameters, matching the API's advertised limits for the
// highest-volume plan. The first real response corrects all three.
const (
	// DefaultMaxAvailable is the assumed budget ceiling before the first
	// server observation.
	DefaultMaxAvailable = 20000

	// DefaultRestoreRate is the assumed refill rate in points per second.
	DefaultRestoreRate = 1000

	// DefaultEstimatedCost is the conservative per-request cost assumed
	// before the server reports a requestedQueryCost.
	DefaultEstimatedCost = 1000
)

// Limiter tracks a leaky-bucket query-cost budget derived from server-reported
// throttle status. It is the one piece of mutable state shared across
// concurrent operations on a client; every method is a single short critical
// section, so callers serialize on bookkeeping only, never on network calls.
//
// Between observations the budget is projected forward at the restore rate,
// capped at the ceiling. The server snapshot handed to Observe is always
// authoritative and corrects any drift from optimistic reservations.
type Limiter struct {
	mu           sync.Mutex
	available    float64
	maxAvailable float64
	restoreRate  float64
	last         time.Time

	now func() time.Time // test hook
}

// NewLimiter creates a Limiter with the given budget ceiling and restore rate
// in points per second. The budget starts full; the first Observe replaces
// the optimistic default with server truth.
func NewLimiter(maxAvailable, restoreRate float64) (*Limiter, error) {
	if restoreRate <= 0 {
		return nil, ErrZeroRestoreRate
	}
	if maxAvailable <= 0 {
		return nil, errors.New("shopgraph: maximum available budget must be positive")
	}
	l := &Limiter{
		available:    maxAvailable,
		maxAvailable: maxAvailable,
		restoreRate:  restoreRate,
		now:          time.Now,
	}
	l.last = l.now()
	return l, nil
}

// Admit decides whether a request of the given estimated cost may be sent
// now. On admission it reserves the cost optimistically and returns zero; the
// reservation must later be settled by Observe (server truth) or Refund
// (no truth will arrive). Otherwise it returns the minimal wait after which a
// retried admission will succeed.
//
// A cost above the budget ceiling can never be admitted and returns
// ErrCostExceedsBudget rather than a wait.
func (l *Limiter) Admit(cost float64) (time.Duration, error) {
	if cost < 0 {
		cost = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cost > l.maxAvailable {
		return 0, ErrCostExceedsBudget
	}

	l.project()
	if l.available >= cost {
		l.available -= cost
		return 0, nil
	}

	// Round the wait up so sleeping exactly that long always restores the
	// full deficit; truncation would leave an epsilon shortfall here.
	deficit := cost - l.available
	wait := time.Duration(math.Ceil(deficit / l.restoreRate * float64(time.Second)))
	if wait <= 0 {
		// Sub-nanosecond deficit: nothing sleepable remains, so this is an
		// admission and must carry the reservation like any other.
		l.available = clamp(l.available-cost, 0, l.maxAvailable)
		return 0, nil
	}
	return wait, nil
}

// Observe replaces the budget snapshot with the server-reported truth. It is
// called after every real response, success or failure, so the budget stays
// accurate on error paths too. A snapshot with a non-positive restore rate or
// ceiling is ignored rather than poisoning the limiter.
func (l *Limiter) Observe(st ThrottleStatus) {
	if st.RestoreRate <= 0 || st.MaximumAvailable <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maxAvailable = st.MaximumAvailable
	l.restoreRate = st.RestoreRate
	l.available = clamp(st.CurrentlyAvailable, 0, l.maxAvailable)
	l.last = l.now()
}

// Refund returns an optimistic reservation to the budget. It settles
// reservations on exit paths where no server snapshot will arrive: transport
// failures, cancellation, and responses without a cost extension.
func (l *Limiter) Refund(cost float64) {
	if cost <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.project()
	l.available = clamp(l.available+cost, 0, l.maxAvailable)
}

// Available returns the budget projected to now.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.project()
	return l.available
}

// Status returns the current budget state as a ThrottleStatus snapshot.
func (l *Limiter) Status() ThrottleStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.project()
	return ThrottleStatus{
		MaximumAvailable:   l.maxAvailable,
		CurrentlyAvailable: l.available,
		RestoreRate:        l.restoreRate,
	}
}

// project advances the budget to now at the restore rate. Callers hold mu.
func (l *Limiter) project() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.available = clamp(l.available+l.restoreRate*elapsed, 0, l.maxAvailable)
	}
	l.last = now
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
