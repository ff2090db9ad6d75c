package correlation

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "cid-1", cid)
	assert.Equal(t, "cid-1", ExtractCorrelationID(ctx))
}

func TestInjectHeaderGenerates(t *testing.T) {
	header := http.Header{}
	cid := InjectHeader(context.Background(), header)
	assert.Len(t, cid, 26)
	assert.Equal(t, cid, header.Get(HeaderName))
}

func TestContextWithCorrelationIDRejectsUnsafeValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ExtractCorrelationID(ContextWithCorrelationID(ctx, "")))
	assert.Empty(t, ExtractCorrelationID(ContextWithCorrelationID(ctx, "a b")))
	assert.Empty(t, ExtractCorrelationID(ContextWithCorrelationID(ctx, "x\ny")))
	assert.Empty(t, ExtractCorrelationID(ContextWithCorrelationID(ctx, strings.Repeat("a", 65))))
	assert.Equal(t, "outbox:1234", ExtractCorrelationID(ContextWithCorrelationID(ctx, " outbox:1234 ")))
}
