package relay

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiters hands out one token bucket per caller key.
type limiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	entries map[string]*limiterEntry
}

func newLimiters(perSecond float64, burst int, idle time.Duration) *limiters {
	return &limiters{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *limiters) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.entries[key]
	if !ok {
		l.sweep(now)
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *limiters) sweep(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.entries, k)
		}
	}
}

// callerKey identifies the caller for rate limiting: the deviceId query
// parameter when present, else the remote host.
func callerKey(r *http.Request) string {
	if id := r.URL.Query().Get("deviceId"); id != "" {
		return "device:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}
