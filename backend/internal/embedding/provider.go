// Package embedding supplies contact embeddings for the semantic strategy.
package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Provider returns embeddings for the given contacts of a user. Contacts
// without an embedding are absent from the result.
type Provider interface {
	Embeddings(ctx context.Context, userID string, contactIDs []string) (map[string][]float32, error)
}

// Static serves embeddings from memory, keyed by user then contact id.
type Static map[string]map[string][]float32

func (s Static) Embeddings(ctx context.Context, userID string, contactIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(contactIDs))
	for _, id := range contactIDs {
		if v, ok := s[userID][id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("embedding provider unavailable")

// BreakerConfig tunes the circuit breaker around a provider.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used in production.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
		CallTimeout:      5 * time.Second,
	}
}

// Breaker guards a Provider with a circuit breaker and a per-call timeout.
type Breaker struct {
	next Provider
	*guard
}

// NewBreaker wraps next.
func NewBreaker(next Provider, cfg BreakerConfig, log *zap.Logger) *Breaker {
	return &Breaker{next: next, guard: newGuard(cfg, log)}
}

func (b *Breaker) Embeddings(ctx context.Context, userID string, contactIDs []string) (map[string][]float32, error) {
	res, err := b.call(ctx, func(ctx context.Context) (interface{}, error) {
		return b.next.Embeddings(ctx, userID, contactIDs)
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string][]float32), nil
}

// GeneratorBreaker guards a Generator the way Breaker guards a Provider.
type GeneratorBreaker struct {
	next Generator
	*guard
}

// NewGeneratorBreaker wraps next.
func NewGeneratorBreaker(next Generator, cfg BreakerConfig, log *zap.Logger) *GeneratorBreaker {
	return &GeneratorBreaker{next: next, guard: newGuard(cfg, log)}
}

func (b *GeneratorBreaker) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := b.call(ctx, func(ctx context.Context) (interface{}, error) {
		return b.next.Generate(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return res.([][]float32), nil
}

type guard struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func newGuard(cfg BreakerConfig, log *zap.Logger) *guard {
	if log == nil {
		log = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Embedding breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not a provider failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &guard{cb: cb, timeout: cfg.CallTimeout}
}

func (g *guard) call(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return res, err
}

// State reports the breaker state, for health output.
func (g *guard) State() string {
	return g.cb.State().String()
}
