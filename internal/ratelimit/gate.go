// Package ratelimit throttles outbound calls to the upstream stats API.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/owmeta/stats-api/internal/clock"
)

var gateWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "owstats_ratelimit_wait_seconds",
	Help:    "Time callers spent blocked on the upstream rate gate",
	Buckets: []float64{0, .05, .1, .2, .5, 1, 2, 5},
})

// Gate spaces acquisitions at least 1/rps apart across all callers.
type Gate struct {
	limiter *rate.Limiter
	clock   clock.Clock
}

// NewGate returns a gate granting at most rps acquisitions per second.
// A non-positive rps falls back to 5.
func NewGate(rps int, c clock.Clock) *Gate {
	if rps <= 0 {
		rps = 5
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Gate{
		// Burst 1: no two grants closer than the interval.
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), 1),
		clock:   c,
	}
}

// Interval is the minimum spacing between two grants.
func (g *Gate) Interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(g.limiter.Limit()))
}

// Acquire blocks until the caller may issue one request. The reservation is
// taken under the limiter's lock, so the read and update of the last grant
// time happen as one step. A cancelled ctx ends the wait early and the caller
// proceeds.
func (g *Gate) Acquire(ctx context.Context) {
	now := g.clock.Now()
	r := g.limiter.ReserveN(now, 1)
	if !r.OK() {
		return
	}
	delay := r.DelayFrom(now)
	gateWait.Observe(delay.Seconds())
	if delay > 0 {
		g.clock.Sleep(ctx, delay)
	}
}
