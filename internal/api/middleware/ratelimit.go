// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimiter is a fixed-window limiter keyed by client IP. One counter per
// client covers every route: a client hammering the stream endpoint also
// exhausts its download budget.
type RateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]*windowEntry

	lastSweep time.Time

	// now is swapped in tests to step through windows.
	now func() time.Time

	// onReject is an optional hook, used for the rejection counter.
	onReject func()
}

type windowEntry struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 150
	}
	if window <= 0 {
		window = time.Hour
	}
	return &RateLimiter{
		max:     maxRequests,
		window:  window,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// OnReject registers a hook invoked once per rejected request.
func (l *RateLimiter) OnReject(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReject = fn
}

// Update applies reloaded configuration. Existing windows keep counting;
// only the threshold and window length change.
func (l *RateLimiter) Update(maxRequests int, window time.Duration) {
	if maxRequests <= 0 || window <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.max = maxRequests
	l.window = window
}

// Allow records one request for key and reports whether it fits in the
// current window. retryAfter is the remaining window time when rejected.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.windowStart) >= l.window {
		l.entries[key] = &windowEntry{count: 1, windowStart: now}
		return true, 0
	}

	entry.count++
	if entry.count <= l.max {
		return true, 0
	}

	if l.onReject != nil {
		l.onReject()
	}
	return false, entry.windowStart.Add(l.window).Sub(now)
}

// sweep drops expired windows. Runs at most once per window to keep Allow
// cheap.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	for key, entry := range l.entries {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.entries, key)
		}
	}
}

// Handler enforces the limit. Stream listing routes must stay well-formed
// for players, so a rejection there is a 200 with a single synthetic stream
// naming the wait; every other route gets a plain 429.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIPFromContext(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		allowed, retryAfter := l.Allow(key)
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		log.Debug().
			Str("client", key).
			Str("path", r.URL.Path).
			Dur("retry_after", retryAfter).
			Msg("rate limit exceeded")

		if isStreamRoute(r.URL.Path) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"streams": []map[string]string{
					{
						"name":  "StreamBridge",
						"title": fmt.Sprintf("Too many requests. Try again in %s.", formatRetryAfter(retryAfter)),
					},
				},
			})
			return
		}

		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
	})
}

func isStreamRoute(path string) bool {
	return strings.Contains(path, "/stream/")
}

func formatRetryAfter(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds())+1)
	}
	return fmt.Sprintf("%dm", int(d.Minutes())+1)
}
