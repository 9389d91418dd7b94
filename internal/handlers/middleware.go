package handlers

import (
	"net/http"
	"strings"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	headerRequestID   = "X-Request-ID"
	headerActorID     = "X-Actor-ID"
	headerActorRole   = "X-Actor-Role"
	headerActorEmail  = "X-Actor-Email"
	headerPaystackSig = "X-Paystack-Signature"

	actorKey = "actor"
)

// observe extracts W3C trace context, opens a server span, attaches a request-scoped logger
// and writes one access log line per request.
func (h *Handler) observe() gin.HandlerFunc {
	prop := otel.GetTextMapPropagator()
	tracer := otel.Tracer("storefront-orders/http")

	return func(c *gin.Context) {
		start := time.Now()
		ctx := prop.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)

		reqLogger := logging.WithTrace(ctx, h.logger.With(zap.String("request_id", rid)))
		c.Request = c.Request.WithContext(logging.ContextWithLogger(ctx, reqLogger))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			reqLogger.Error("http_request", fields...)
			return
		}
		reqLogger.Info("http_request", fields...)
	}
}

// requireActor reads the identity an upstream authentication layer put on the request.
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader(headerActorID))
		if err != nil || id == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "missing or invalid actor", Code: "UNAUTHENTICATED"})
			return
		}
		role := domain.Role(strings.ToLower(c.GetHeader(headerActorRole)))
		switch role {
		case "":
			role = domain.RoleCustomer
		case domain.RoleCustomer, domain.RoleAdmin:
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unknown actor role", Code: "UNAUTHENTICATED"})
			return
		}
		c.Set(actorKey, domain.Actor{ID: id, Role: role, Email: c.GetHeader(headerActorEmail)})
		c.Next()
	}
}

func actorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(domain.Actor); ok {
			return a
		}
	}
	return domain.Actor{}
}
