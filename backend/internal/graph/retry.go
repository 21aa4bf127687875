package graph

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "contactgraph/backend/pkg/errors"
)

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// CallTimeout bounds each attempt. Zero means no per-attempt timeout.
	CallTimeout time.Duration
}

// DefaultRetry provides sensible retry defaults.
var DefaultRetry = RetryPolicy{
	MaxAttempts: 4,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
	CallTimeout: 10 * time.Second,
}

// errPermanent marks errors that must not be retried
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// permanent wraps err so do returns it without retrying.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return errPermanent{err: err}
}

// do runs f until it succeeds, returns a non-retryable error, or the attempt
// budget is exhausted. Exhausted budgets surface as ErrTransientStore.
func (p RetryPolicy) do(ctx context.Context, op string, f func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.InitialWait

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		err = f(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		var perm errPermanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return apperrors.NewContextCancelled(op, ctx.Err())
		}
		if !isTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		sleep := wait
		if p.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleep > p.MaxWait {
			sleep = p.MaxWait
		}
		select {
		case <-ctx.Done():
			return apperrors.NewContextCancelled(op, ctx.Err())
		case <-time.After(sleep):
		}

		wait *= 2
		if wait > p.MaxWait {
			wait = p.MaxWait
		}
	}
	return apperrors.NewTransientStore(op, attempts, err)
}

// isTransient reports whether a store error may succeed on retry.
// Authentication, authorization and statement errors never do.
func isTransient(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security."):
			return false
		case strings.HasPrefix(neoErr.Code, "Neo.TransientError."):
			return true
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError."):
			return false
		}
	}
	if neo4j.IsRetryable(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// per-attempt timeout; the caller's own deadline is checked separately
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *neo4j.ConnectivityError
	return errors.As(err, &connErr)
}
