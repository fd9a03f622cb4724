package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/thelab33/futurefunded/internal/config"
	obsmetrics "github.com/thelab33/futurefunded/internal/observability/metrics"
)

const (
	keyIntentClient = "donate:intent:client:"
	endpointIntent  = "payments.stripe.intent"
)

// IntentLimiter throttles payment-intent creation per client. It uses the
// shared redis token bucket when redis is configured and falls back to an
// in-process fixed window otherwise. Redis failures fail open: a broken
// limiter must never block donations.
type IntentLimiter struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	bucket  *TokenBucket
	local   *localWindow

	rate  float64
	burst int
}

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewIntentLimiter(p Params) *IntentLimiter {
	limiter := &IntentLimiter{
		log:     p.Log.Named("ratelimit.intent"),
		metrics: p.Metrics,
		rate:    0.5,
		burst:   10,
	}

	if addr := strings.TrimSpace(p.Cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: p.Cfg.RedisPassword,
		})
		limiter.bucket = NewTokenBucket(client)
	} else {
		limiter.local = newLocalWindow(limiter.burst, time.Minute)
	}
	return limiter
}

// Allow reports whether the client may create another intent right now.
func (l *IntentLimiter) Allow(ctx context.Context, clientKey string) bool {
	if l == nil {
		return true
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return true
	}

	var allowed bool
	var reason string
	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, keyIntentClient+clientKey, l.rate, l.burst)
		if err != nil {
			l.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			l.metrics.RecordRateLimitAllowed(ctx, endpointIntent)
			return true
		}
		allowed = res.Allowed
		reason = "bucket_exhausted"
	} else {
		allowed = l.local.allow(clientKey)
		reason = "window_exhausted"
	}

	if allowed {
		l.metrics.RecordRateLimitAllowed(ctx, endpointIntent)
	} else {
		l.metrics.RecordRateLimitDenied(ctx, endpointIntent, reason)
	}
	return allowed
}

// localWindow is a fixed-window counter for single-process deployments.
type localWindow struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counts   map[string]int
	windowAt time.Time
}

func newLocalWindow(limit int, window time.Duration) *localWindow {
	return &localWindow{
		limit:    limit,
		window:   window,
		counts:   map[string]int{},
		windowAt: time.Now(),
	}
}

func (w *localWindow) allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.Sub(w.windowAt) >= w.window {
		w.counts = map[string]int{}
		w.windowAt = now
	}
	if w.counts[key] >= w.limit {
		return false
	}
	w.counts[key]++
	return true
}
