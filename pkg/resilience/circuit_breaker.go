package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCoordinatorUnavailable is returned while the breaker is open or a probe
// slot is taken. Callers treat it as "skip this tick", not as a task failure.
var ErrCoordinatorUnavailable = errors.New("coordinator unavailable (circuit open)")

// Breaker guards the worker's coordinator RPCs. A coordinator outage must
// degrade into fast local failures instead of a retry storm, but the worker
// also has a deadline: once it has been silent past the coordinator's
// unhealthy threshold it gets marked Failed and its tasks reclaimed. The
// probe cadence is therefore tied to the heartbeat interval, so an open
// breaker lets a heartbeat through well before that threshold passes.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

type BreakerConfig struct {
	Name string
	// ProbeInterval is how long the breaker stays open before admitting a
	// probe request.
	ProbeInterval time.Duration
	// MaxProbes bounds concurrent requests in the half-open state.
	MaxProbes    uint32
	FailureRatio float64
	MinRequests  uint32
}

// CoordinatorBreakerConfig derives the breaker tuning from the heartbeat
// interval the coordinator assigned at registration. The default threshold is
// three heartbeats of silence, so probing once per heartbeat keeps a
// recovering worker inside its liveness budget.
func CoordinatorBreakerConfig(heartbeatInterval time.Duration) BreakerConfig {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 10 * time.Second
	}
	return BreakerConfig{
		Name:          "coordinator",
		ProbeInterval: heartbeatInterval,
		MaxProbes:     1,
		FailureRatio:  0.6,
		MinRequests:   3,
	}
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxProbes,
		Interval:    2 * cfg.ProbeInterval,
		Timeout:     cfg.ProbeInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker, bailing early if ctx is already done.
// An open circuit surfaces as ErrCoordinatorUnavailable.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return fn(ctx)
		}
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCoordinatorUnavailable
	}
	return out, err
}

// Available reports whether a request would currently be admitted.
func (b *Breaker) Available() bool {
	return b.cb.State() != gobreaker.StateOpen
}
