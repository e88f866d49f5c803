package api

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"factor-heston-sim/internal/monitor"
	"factor-heston-sim/internal/simulation"
)

// Limit is an admission ceiling: Rate requests per Period, with bursts of
// up to Burst.
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerMinute returns a limit of n requests per minute, all of which may
// arrive at once.
func PerMinute(n int) Limit {
	return Limit{Rate: n, Period: time.Minute, Burst: n}
}

func (l Limit) String() string {
	if l.Period == time.Minute {
		return fmt.Sprintf("%d/minute", l.Rate)
	}
	return fmt.Sprintf("%d/%s", l.Rate, l.Period)
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// ClientLimiter keeps an independent token bucket per client identity.
type ClientLimiter struct {
	scope string
	limit Limit

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewClientLimiter(scope string, limit Limit) *ClientLimiter {
	if limit.Burst < 1 {
		limit.Burst = 1
	}
	return &ClientLimiter{
		scope:   scope,
		limit:   limit,
		clients: make(map[string]*clientBucket),
	}
}

// Scope names the limiter in metrics, e.g. "default" or "simulate".
func (l *ClientLimiter) Scope() string { return l.scope }

// Limit returns the configured ceiling.
func (l *ClientLimiter) Limit() Limit { return l.limit }

// Allow consumes a token for client if one is available.
func (l *ClientLimiter) Allow(client string) Result {
	now := time.Now()

	l.mu.Lock()
	b, ok := l.clients[client]
	if !ok {
		every := l.limit.Period / time.Duration(max(l.limit.Rate, 1))
		b = &clientBucket{limiter: rate.NewLimiter(rate.Every(every), l.limit.Burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Result{Allowed: false, RetryAfter: l.limit.Period}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Result{Allowed: false, RetryAfter: delay}
	}
	return Result{Allowed: true}
}

// Cleanup forgets clients idle for longer than maxIdle.
func (l *ClientLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed int
	for client, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, client)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func (l *ClientLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := l.Cleanup(maxIdle); n > 0 {
					log.Debug().Str("scope", l.scope).Int("clients", n).Msg("pruned idle rate limit buckets")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware rejects requests from clients over the limiter's
// ceiling with 429 before they reach next.
func RateLimitMiddleware(limiter *ClientLimiter, metrics *monitor.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			res := limiter.Allow(client)
			if !res.Allowed {
				metrics.RecordRateLimited(limiter.Scope())
				err := &simulation.RateLimitError{Client: client, Limit: limiter.Limit().String()}
				log.Warn().
					Str("client", client).
					Str("scope", limiter.Scope()).
					Str("request_id", RequestIDFromContext(r.Context())).
					Msg("rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				writeError(w, err.Error(), "RATE_LIMITED", http.StatusTooManyRequests, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP identifies the caller by the connection's remote host. Forwarding
// headers are ignored since any client can set them.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
