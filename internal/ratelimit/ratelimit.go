package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-client-IP token bucket limiter. Entries for clients that
// have not been seen for staleAfter are dropped by a background loop.
type Limiter struct {
	mu             sync.Mutex
	clients        map[string]*clientEntry
	rate           rate.Limit
	burst          int
	staleAfter     time.Duration
	trustedProxies map[string]bool
	onReject       func(ip string)
	done           chan struct{}
	closeOnce      sync.Once
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Options configures a Limiter. RequestsPerInterval requests are allowed per
// Interval, with bursts up to RequestsPerInterval.
type Options struct {
	RequestsPerInterval int
	Interval            time.Duration
	CleanupInterval     time.Duration
	StaleAfter          time.Duration
	TrustedProxies      []string
	// OnReject, if set, is called for every rejected request.
	OnReject func(ip string)
}

// New creates a Limiter and starts its cleanup loop. Call Close to stop it.
func New(opts Options) (*Limiter, error) {
	if opts.RequestsPerInterval <= 0 {
		return nil, errors.New("ratelimit: requests_per_interval must be positive")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("ratelimit: interval must be positive")
	}
	if opts.CleanupInterval <= 0 {
		return nil, errors.New("ratelimit: cleanup_interval must be positive")
	}
	if opts.StaleAfter <= 0 {
		return nil, errors.New("ratelimit: stale_after must be positive")
	}

	l := &Limiter{
		clients:        make(map[string]*clientEntry),
		rate:           rate.Limit(float64(opts.RequestsPerInterval) / opts.Interval.Seconds()),
		burst:          opts.RequestsPerInterval,
		staleAfter:     opts.StaleAfter,
		trustedProxies: make(map[string]bool, len(opts.TrustedProxies)),
		onReject:       opts.OnReject,
		done:           make(chan struct{}),
	}
	for _, p := range opts.TrustedProxies {
		l.trustedProxies[p] = true
	}

	go l.cleanupLoop(opts.CleanupInterval)
	return l, nil
}

func (l *Limiter) getClient(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[ip]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Allow reports whether a request from ip may proceed now.
func (l *Limiter) Allow(ip string) bool {
	return l.getClient(ip).Allow()
}

// RetryAfter returns the number of whole seconds until ip may send another
// request. It never returns less than 1.
func (l *Limiter) RetryAfter(ip string) int {
	reservation := l.getClient(ip).Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return max(1, int(math.Ceil(delay.Seconds())))
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.staleAfter {
			delete(l.clients, ip)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// ClientIP returns the address a request should be accounted against.
// X-Forwarded-For and X-Real-IP are only honoured when the direct peer is a
// trusted proxy.
func (l *Limiter) ClientIP(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}
	if !l.trustedProxies[remoteIP] {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		clientIP := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(clientIP) != nil {
			return clientIP
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return remoteIP
}

type problemDetail struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after"`
}

// Middleware rejects requests over the limit with a 429 RFC 7807 response
// carrying a Retry-After header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := l.ClientIP(r)
		if l.Allow(clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		if l.onReject != nil {
			l.onReject(clientIP)
		}
		retryAfter := l.RetryAfter(clientIP)
		w.Header().Set("Content-Type", "application/problem+json")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(problemDetail{
			Type:       "about:blank",
			Title:      http.StatusText(http.StatusTooManyRequests),
			Status:     http.StatusTooManyRequests,
			Detail:     fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
			RetryAfter: retryAfter,
		})
	})
}
