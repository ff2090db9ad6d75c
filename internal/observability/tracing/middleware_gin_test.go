package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGinMiddlewareRecordsQueuedMutation(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.PUT("/api/members/:id", func(c *gin.Context) {
		c.Set("queued", true)
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/members/m-1", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP PUT /api/members/:id", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "m-1", attrs["fitdesk.record_id"].AsString())
	assert.True(t, attrs["fitdesk.queued"].AsBool())
	assert.Equal(t, int64(http.StatusAccepted), attrs["http.status_code"].AsInt64())
}

func TestSpanName(t *testing.T) {
	assert.Equal(t, "HTTP GET", spanName("get", ""))
	assert.Equal(t, "HTTP POST /api/sync/drain", spanName("POST", "/api/sync/drain"))
	assert.Equal(t, "unknown", routeOrUnknown(""))
}
