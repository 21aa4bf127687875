package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"

	apperrors "contactgraph/backend/pkg/errors"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastRetry.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &neo4j.Neo4jError{Code: "Neo.TransientError.General.DatabaseUnavailable", Msg: "busy"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustedBudgetIsTransientStore(t *testing.T) {
	calls := 0
	err := fastRetry.do(context.Background(), "upsert node", func(context.Context) error {
		calls++
		return &neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected", Msg: "deadlock"}
	})
	var transient *apperrors.ErrTransientStore
	assert.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, 3, calls)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestRetry_SecurityErrorsAreNotRetried(t *testing.T) {
	calls := 0
	authErr := &neo4j.Neo4jError{Code: "Neo.ClientError.Security.Unauthorized", Msg: "bad credentials"}
	err := fastRetry.do(context.Background(), "op", func(context.Context) error {
		calls++
		return authErr
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, authErr, err)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	base := errors.New("decode failed")
	err := fastRetry.do(context.Background(), "op", func(context.Context) error {
		calls++
		return permanent(base)
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, base, err)
}

func TestRetry_CancelledParentStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastRetry.do(ctx, "op", func(context.Context) error {
		return context.Canceled
	})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeContext))
}

func TestRetry_PerAttemptTimeoutIsRetried(t *testing.T) {
	p := fastRetry
	p.CallTimeout = time.Millisecond
	calls := 0
	err := p.do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&neo4j.Neo4jError{Code: "Neo.TransientError.Network.CommunicationError"}))
	assert.False(t, isTransient(&neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError"}))
	assert.False(t, isTransient(&neo4j.Neo4jError{Code: "Neo.ClientError.Security.Forbidden"}))
	assert.False(t, isTransient(errors.New("plain")))
	assert.True(t, isTransient(context.DeadlineExceeded))
}
