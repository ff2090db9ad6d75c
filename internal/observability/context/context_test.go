package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestAndDeviceIDs(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithDeviceID(ctx, "desk-2")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "desk-2", DeviceIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Equal(t, ctx, WithDeviceID(ctx, ""))
}
