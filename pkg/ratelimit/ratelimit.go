// Package ratelimit applies fixed-window admission policies to the upload
// endpoints. No queued admission: an over-limit request rejects immediately
// with the remainder of the window as Retry-After.
package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/logger"
)

// Policy is one fixed-window admission rule.
type Policy struct {
	// Name keys the policy's windows; policies are independent.
	Name string
	// PermitLimit is the number of requests admitted per window.
	PermitLimit int
	// Window is the fixed window length.
	Window time.Duration
}

// Default upload policies.
var (
	DefaultReservePolicy = Policy{Name: "UploadReserve", PermitLimit: 30, Window: time.Minute}
	DefaultContentPolicy = Policy{Name: "UploadContent", PermitLimit: 60, Window: time.Minute}
	DefaultCommitPolicy  = Policy{Name: "UploadCommit", PermitLimit: 30, Window: time.Minute}
)

// Policies groups the three upload admission rules.
type Policies struct {
	Reserve Policy
	Content Policy
	Commit  Policy
}

// OrDefaults fills unnamed policies with the built-in defaults.
func (p Policies) OrDefaults() Policies {
	if p.Reserve.Name == "" {
		p.Reserve = DefaultReservePolicy
	}
	if p.Content.Name == "" {
		p.Content = DefaultContentPolicy
	}
	if p.Commit.Name == "" {
		p.Commit = DefaultCommitPolicy
	}
	return p
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks fixed windows per (policy, caller) pair.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLimiter returns an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{windows: make(map[string]*window), now: time.Now}
}

// Allow admits or rejects one request under the policy for the caller key.
// On rejection it returns the time until the window resets.
func (l *Limiter) Allow(p Policy, key string) (bool, time.Duration) {
	if p.PermitLimit <= 0 || p.Window <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := p.Name + "|" + key
	w, ok := l.windows[id]
	if !ok || now.Sub(w.start) >= p.Window {
		l.windows[id] = &window{start: now, count: 1}
		return true, 0
	}
	if w.count < p.PermitLimit {
		w.count++
		return true, 0
	}
	return false, p.Window - now.Sub(w.start)
}

// rejection is the 429 payload.
type rejection struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

// Middleware applies the policy keyed by the authenticated user, falling
// back to the client address for unauthenticated callers.
func (l *Limiter) Middleware(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := audit.ClientIP(r)
			if principal, ok := identity.FromContext(r.Context()); ok {
				key = principal.UserID.String()
			}

			allowed, retryAfter := l.Allow(p, key)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			seconds := int64(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			if err := json.NewEncoder(w).Encode(rejection{
				Error:             "rate_limited",
				Message:           "too many requests, retry later",
				RetryAfterSeconds: seconds,
			}); err != nil {
				logger.Errorf("encoding rate-limit response: %v", err)
			}
		})
	}
}

