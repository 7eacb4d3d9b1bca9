package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrStorage("writing checkpoint").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "writing checkpoint")
	assert.Contains(t, err.Error(), "disk full")
}

func TestDomainError_IsMatchesCategoryAndCode(t *testing.T) {
	err := ErrNotFound("simulation", "sim_x")
	wrapped := fmt.Errorf("handling request: %w", err)

	assert.True(t, IsCategory(wrapped, ErrCatNotFound))
	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.False(t, IsCategory(wrapped, ErrCatState))
	assert.False(t, IsCode(wrapped, CodeInvalidState))
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrCapacityExceeded(3)))
	assert.False(t, IsRetryable(ErrInvalidState("start", StatusRunning)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestErrInvalidTransition_Details(t *testing.T) {
	err := ErrInvalidTransition(StatusPending, EventPause)

	var domErr *DomainError
	require.True(t, errors.As(err, &domErr))
	assert.Equal(t, CodeInvalidTransition, domErr.Code)
	assert.Equal(t, ErrCatState, domErr.Category)
}
