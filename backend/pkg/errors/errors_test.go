package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsErrorType_Wrapped(t *testing.T) {
	err := fmt.Errorf("start job: %w", NewJobAlreadyRunning("u1", "j1"))
	assert.True(t, IsErrorType(err, ErrorTypeJob))
	assert.False(t, IsErrorType(err, ErrorTypeGraph))

	var running *ErrJobAlreadyRunning
	assert.True(t, As(err, &running))
	assert.Equal(t, "u1", running.UserID)
	assert.Equal(t, "j1", running.JobID)
}

func TestIsErrorType_Plain(t *testing.T) {
	assert.False(t, IsErrorType(stderrors.New("boom"), ErrorTypeGraph))
	assert.False(t, IsErrorType(nil, ErrorTypeGraph))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTransientStore("upsert edge", 3, stderrors.New("conn reset"))))
	assert.True(t, IsRetryable(NewGraphStoreUnavailable("ping failed", nil)))
	assert.True(t, IsRetryable(NewJobAlreadyRunning("u1", "")))
	assert.False(t, IsRetryable(NewInvalidTier("high")))
	assert.False(t, IsRetryable(NewInputValidation("contacts", "duplicate id c1")))
	assert.False(t, IsRetryable(NewContextCancelled("discover", context.Canceled)))
}

func TestBaseError_Message(t *testing.T) {
	err := NewTransientStore("upsert node", 4, stderrors.New("timeout"))
	assert.Equal(t, "[graph] upsert node failed after 4 attempts: timeout", err.Error())
	assert.True(t, Is(err, err.Err))

	assert.Equal(t, `[review] invalid tier: "high" (want medium or low)`, NewInvalidTier("high").Error())
}
