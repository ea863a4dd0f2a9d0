package http

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quangminh-smart-border/consignment-service/internal/metrics"
	"github.com/quangminh-smart-border/consignment-service/internal/service"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderAPIKey    = "X-API-Key"
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"

	ctxRequestID = "requestId"
	ctxActor     = "actor"
)

// RequestIDMiddleware propagates X-Request-ID or generates one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// LoggingMiddleware prints request/response metrics.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if len(c.Errors) > 0 {
			log.Errorf("%s %s rid=%s: %s", c.Request.Method, c.Request.URL.Path, c.GetString(ctxRequestID), c.Errors.String())
		}
		log.Infof("%s %s %d %s rid=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), c.GetString(ctxRequestID))
	}
}

// MetricsMiddleware records request count and latency by route pattern.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// RateLimitMiddleware simple token bucket per IP.
func RateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	buckets := make(map[string]*rate.Limiter)
	newLimiter := func() *rate.Limiter { return rate.NewLimiter(rate.Limit(rps), burst) }
	return func(c *gin.Context) {
		ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			ip = c.Request.RemoteAddr
		}
		mu.Lock()
		lim, ok := buckets[ip]
		if !ok {
			lim = newLimiter()
			buckets[ip] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody("RATE_LIMITED", "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// APIKeyMiddleware rejects requests without the configured key. An empty key disables the check.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderAPIKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "missing or invalid api key"))
			return
		}
		c.Next()
	}
}

// ActorMiddleware reads the acting staff user from X-User-ID and X-User-Role.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := service.Actor{Role: c.GetHeader(HeaderUserRole)}
		if raw := c.GetHeader(HeaderUserID); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(codeValidation, "invalid "+HeaderUserID))
				return
			}
			actor.UserID = &id
		}
		c.Set(ctxActor, actor)
		c.Next()
	}
}

// RequireRole lets the request through only for the listed roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[actorFrom(c).Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody("FORBIDDEN", "role not allowed"))
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) service.Actor {
	v, ok := c.Get(ctxActor)
	if !ok {
		return service.Actor{}
	}
	a, _ := v.(service.Actor)
	return a
}
