package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	validation := fmt.Errorf("upsert member: %w", Validation("email", "invalid_email", "invalid email"))
	assert.True(t, IsValidation(validation))
	assert.False(t, IsRemoteRejected(validation))

	unavailable := fmt.Errorf("replay: %w", &RemoteUnavailableError{Op: "create_client", Err: context.DeadlineExceeded})
	assert.True(t, IsRemoteUnavailable(unavailable))
	assert.True(t, errors.Is(unavailable, context.DeadlineExceeded))

	rejected := fmt.Errorf("replay: %w", &RemoteRejectedError{Op: "create_client", StatusCode: 409, Code: "duplicate_email"})
	got, ok := AsRemoteRejected(rejected)
	assert.True(t, ok)
	assert.Equal(t, 409, got.StatusCode)

	storage := &LocalStorageError{Op: "put", Collection: "members", Err: errors.New("disk full")}
	assert.True(t, IsLocalStorage(fmt.Errorf("wrap: %w", storage)))
	assert.Contains(t, storage.Error(), "disk full")
}
