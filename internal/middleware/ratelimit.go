package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxPeekBytes bounds how much of an auth request body CredentialKey reads.
const maxPeekBytes = 4 << 10

// RealIP returns the caller's address. CF-Connecting-IP wins over the first
// X-Forwarded-For hop, and RemoteAddr is the fallback.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CredentialKey buckets sign-up and sign-in attempts by caller address and
// the lower-cased email in the JSON body, so guessing one account's
// password from one address is throttled without locking out the rest of
// a shared NAT. The body is restored for the next handler.
func CredentialKey(r *http.Request) string {
	ip := RealIP(r)
	if r.Body == nil {
		return ip
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))
	if err != nil {
		return ip
	}
	var creds struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(raw, &creds) != nil || creds.Email == "" {
		return ip
	}
	return ip + "|" + strings.ToLower(strings.TrimSpace(creds.Email))
}

type window struct {
	count   int
	resetAt time.Time
}

// AttemptLimiter allows at most limit attempts per key in each fixed window.
type AttemptLimiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func NewAttemptLimiter(limit int, period time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Hit records one attempt for key. When the key is over its limit it
// reports false and how long until the window resets.
func (l *AttemptLimiter) Hit(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.period)}
		return true, 0
	}
	w.count++
	if w.count > l.limit {
		return false, w.resetAt.Sub(now)
	}
	return true, 0
}

// Prune forgets windows that have already reset.
func (l *AttemptLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// Run prunes every interval until ctx is done.
func (l *AttemptLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Prune()
		case <-ctx.Done():
			return
		}
	}
}

// LimitAttempts rejects requests whose key is over the limiter's budget
// with 429 and a Retry-After in whole seconds.
func LimitAttempts(l *AttemptLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Hit(key(r))
			if !ok {
				secs := int((wait + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
