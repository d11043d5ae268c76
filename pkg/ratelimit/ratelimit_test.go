package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frozenLimiter pins the clock so window math is deterministic.
func frozenLimiter(at time.Time) (*Limiter, *time.Time) {
	clock := at
	l := NewLimiter()
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestAllowAdmitsUpToLimit(t *testing.T) {
	t.Parallel()
	l, _ := frozenLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := Policy{Name: "test", PermitLimit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(p, "alice")
		require.True(t, ok)
	}
	ok, retryAfter := l.Allow(p, "alice")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestAllowRetryAfterShrinksWithinWindow(t *testing.T) {
	t.Parallel()
	l, clock := frozenLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := Policy{Name: "test", PermitLimit: 1, Window: time.Minute}

	ok, _ := l.Allow(p, "alice")
	require.True(t, ok)

	*clock = clock.Add(45 * time.Second)
	ok, retryAfter := l.Allow(p, "alice")
	assert.False(t, ok)
	assert.Equal(t, 15*time.Second, retryAfter)
}

func TestAllowResetsAfterWindow(t *testing.T) {
	t.Parallel()
	l, clock := frozenLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := Policy{Name: "test", PermitLimit: 1, Window: time.Minute}

	ok, _ := l.Allow(p, "alice")
	require.True(t, ok)
	ok, _ = l.Allow(p, "alice")
	require.False(t, ok)

	*clock = clock.Add(time.Minute)
	ok, _ = l.Allow(p, "alice")
	assert.True(t, ok)
}

func TestAllowKeysAreIndependent(t *testing.T) {
	t.Parallel()
	l, _ := frozenLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := Policy{Name: "test", PermitLimit: 1, Window: time.Minute}
	other := Policy{Name: "other", PermitLimit: 1, Window: time.Minute}

	ok, _ := l.Allow(p, "alice")
	require.True(t, ok)
	ok, _ = l.Allow(p, "alice")
	require.False(t, ok)

	// A different caller and a different policy each get their own window.
	ok, _ = l.Allow(p, "bob")
	assert.True(t, ok)
	ok, _ = l.Allow(other, "alice")
	assert.True(t, ok)
}

func TestAllowZeroPolicyIsUnlimited(t *testing.T) {
	t.Parallel()
	l := NewLimiter()

	for i := 0; i < 100; i++ {
		ok, _ := l.Allow(Policy{Name: "off"}, "alice")
		require.True(t, ok)
	}
}

func TestMiddlewareRejectsWithRetryAfter(t *testing.T) {
	t.Parallel()
	l, clock := frozenLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	*clock = clock.Add(30 * time.Second)
	p := Policy{Name: "test", PermitLimit: 1, Window: time.Minute}

	handler := l.Middleware(p)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.RemoteAddr = "192.0.2.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t,
		`{"error":"rate_limited","message":"too many requests, retry later","retryAfterSeconds":60}`,
		rec.Body.String())
}
