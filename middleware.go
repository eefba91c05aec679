package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type contextKey string

const (
	ctxUser        contextKey = "user"
	ctxKeystore    contextKey = "keystore"
	ctxAccessToken contextKey = "accessToken"
)

// getBearerToken extracts the token from an Authorization header. Anything
// other than exactly "Bearer <token>" is a bad request, not an auth failure.
func getBearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing Authorization header", ErrBadRequest)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", fmt.Errorf("%w: invalid Authorization header", ErrBadRequest)
	}
	return parts[1], nil
}

// Authenticate guards protected routes: it validates the bearer token,
// resolves the user and keystore behind it, and stores all three in the
// request context. Expired access tokens get their own error code so
// clients know to refresh instead of re-authenticating.
func (a *App) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := getBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		user, keystore, err := a.Sessions.Authorize(token)
		if err != nil {
			writeFailure(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUser, user)
		ctx = context.WithValue(ctx, ctxKeystore, keystore)
		ctx = context.WithValue(ctx, ctxAccessToken, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(ctxUser).(*User)
	return u
}

func keystoreFromContext(ctx context.Context) *Keystore {
	ks, _ := ctx.Value(ctxKeystore).(*Keystore)
	return ks
}

// ClientThrottle rate-limits credential endpoints per client address.
// Brute-force lockout policy is deliberately kept out of the session
// manager; this is the deployment-tunable stand-in.
type ClientThrottle struct {
	limiters  map[string]*rate.Limiter
	mu        sync.RWMutex
	perMinute int
}

func NewClientThrottle(perMinute int) *ClientThrottle {
	return &ClientThrottle{
		limiters:  make(map[string]*rate.Limiter),
		perMinute: perMinute,
	}
}

func (t *ClientThrottle) getLimiter(client string) *rate.Limiter {
	t.mu.RLock()
	limiter, exists := t.limiters[client]
	t.mu.RUnlock()

	if !exists {
		t.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = t.limiters[client]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(t.perMinute)/60, t.perMinute)
			t.limiters[client] = limiter
		}
		t.mu.Unlock()
	}

	return limiter
}

// Throttle enforces the sign-in rate limit. A zero limit disables it.
func (a *App) Throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.throttle == nil || a.throttle.perMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			client = host
		}
		if !a.throttle.getLimiter(client).Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many attempts")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS middleware handles CORS headers
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (a.corsOrigin == "*" || a.corsOrigin == origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Logging middleware logs requests
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Printf("[%s] %s %s %d %v", r.Method, r.URL.Path, r.RemoteAddr, wrapped.statusCode, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
