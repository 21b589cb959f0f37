package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/service"
	"go.uber.org/zap"
)

const (
	principalKey = "principal"
	requestIDKey = "requestId"

	// PipelineTokenHeader authenticates the analysis pipeline
	PipelineTokenHeader = "X-Pipeline-Token"
	// RequestIDHeader echoes the request id to the client
	RequestIDHeader = "X-Request-ID"
)

type principalCtxKey struct{}

// PrincipalFrom returns the authenticated caller stored by AuthMiddleware
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(models.Principal)
	return p, ok
}

// AuthMiddleware returns a Gin middleware for authentication. The session
// is re-validated against the database on every request.
func AuthMiddleware(svc service.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get the JWT token from the Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithKind(c, service.KindUnauthorized, "Authentication required")
			return
		}

		// Check if the Authorization header starts with "Bearer "
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWithKind(c, service.KindUnauthorized, "Invalid token format")
			return
		}

		principal, err := svc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			abortWithError(c, logger, err)
			return
		}

		// Set the principal in both contexts
		c.Set(principalKey, *principal)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), principalCtxKey{}, *principal))
		c.Next()
	}
}

// RequireCapability rejects callers whose role lacks the capability
func RequireCapability(caps ...models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		for _, capability := range caps {
			if p.Can(capability) {
				c.Next()
				return
			}
		}
		abortWithKind(c, service.KindForbidden, "Insufficient permissions")
	}
}

// PipelineAuth checks the shared pipeline secret. An empty secret disables
// the pipeline routes.
func PipelineAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(PipelineTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abortWithKind(c, service.KindUnauthorized, "Invalid pipeline token")
			return
		}
		c.Next()
	}
}

// RequestLogger assigns a request id and logs every request once it completes
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if p, ok := c.Get(principalKey); ok {
			fields = append(fields, zap.String("user_id", p.(models.Principal).UserID))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

// CORS allows browser clients from the configured origins
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || (!allowed[origin] && !allowed["*"]) {
			if c.Request.Method == http.MethodOptions && origin != "" {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Add("Vary", "Origin")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition, "+RequestIDHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// principal returns the caller set by AuthMiddleware
func principal(c *gin.Context) models.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(models.Principal)
	return p
}
