package middleware

import (
	"math"
	"strconv"

	"callpulse/pkg/config"
	"callpulse/pkg/errors"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter store; idle clients fall out first.
const maxTrackedClients = 10000

// rateLimiterStore stores per-client rate limiters.
type rateLimiterStore struct {
	limiters  *lru.Cache[string, *rate.Limiter]
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	// size is a positive constant
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &rateLimiterStore{
		limiters:  cache,
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	limiter := rate.NewLimiter(s.rate, s.burstSize)
	if prev, found, _ := s.limiters.PeekOrAdd(key, limiter); found {
		return prev
	}
	return limiter
}

func abortWithAppError(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
		"details": appErr.Context,
	})
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies per-client
// rate limiting and an optional cap on concurrent requests.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := cfg.RateLimiting.HTTP.RequestsPerSecond
	burst := cfg.RateLimiting.HTTP.Burst

	store := newRateLimiterStore(rate.Limit(rps), burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				abortWithAppError(c, errors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}

		limiter := store.getLimiter(c.ClientIP())
		reservation := limiter.Reserve()
		if delay := reservation.Delay(); !reservation.OK() || delay > 0 {
			reservation.Cancel()
			retryAfter := 1
			if reservation.OK() {
				retryAfter = int(math.Ceil(delay.Seconds()))
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			abortWithAppError(c, errors.NewRateLimitError().WithContext("retry_after_seconds", retryAfter))
			return
		}
		c.Next()
	}
}
