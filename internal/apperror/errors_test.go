package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("submit create: %w", Validation("remote.Create", 422, "name is required"))

	assert.Equal(t, KindValidation, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Network("remote.FetchAll", errors.New("connection refused"))))
	assert.True(t, IsRetryable(Server("remote.Create", 503, "unavailable")))
	assert.False(t, IsRetryable(Auth("remote.Create", 401, "expired")))
	assert.False(t, IsRetryable(Storage("store.Upsert", errors.New("disk full"))))
	assert.False(t, IsRetryable(errors.New("Network Error")))
}

func TestStorageMessage(t *testing.T) {
	cause := errors.New("database is locked")
	err := Storage("store.Load", cause)

	assert.Contains(t, err.Error(), "offline cache unavailable")
	assert.ErrorIs(t, err, cause)
}
