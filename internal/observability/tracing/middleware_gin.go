package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/fitdesk/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per local API request. The span records
// the record id from the route, the terminal, and whether the mutation was
// queued for a later sync.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("fitdesk/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, spanName(c.Request.Method, ""), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ctx = withRequestBaggage(ctx, span, obscontext.RequestIDFromContext(ctx))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		span.SetName(spanName(c.Request.Method, route))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", routeOrUnknown(route)),
			attribute.Int("http.status_code", c.Writer.Status()),
		}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, attribute.String("fitdesk.record_id", id))
		}
		if device := obscontext.DeviceIDFromContext(ctx); device != "" {
			attrs = append(attrs, attribute.String("fitdesk.device_id", device))
		}
		if queued, ok := c.Get("queued"); ok {
			if v, isBool := queued.(bool); isBool {
				attrs = append(attrs, attribute.Bool("fitdesk.queued", v))
			}
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if c.Writer.Status() < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			span.RecordError(SafeError(lastErr.Err))
		}
		span.SetStatus(codes.Error, "request error")
	}
}

func withRequestBaggage(ctx context.Context, span trace.Span, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func spanName(method, route string) string {
	name := "HTTP " + strings.ToUpper(method)
	if route != "" {
		name += " " + route
	}
	return name
}

func routeOrUnknown(route string) string {
	if route == "" {
		return "unknown"
	}
	return route
}
