package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/BYU-PCCL/footron-api/internal/codegen"
	"github.com/rs/zerolog"
)

const authCodeHeader = "X-AUTH-CODE"

type ctxKey int

const authCodeCtxKey ctxKey = iota

// withAuthCode reproduces footron_api/routes/api.py:validate_auth_code:
// the caller's code must match current_code or next_code (header takes
// precedence over cookie); a next_code match advances the rotation, as
// the first real use of a freshly-placarded code does.
func (r *Router) withAuthCode(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		code := req.Header.Get(authCodeHeader)
		if code == "" {
			if cookie, err := req.Cookie(authCodeHeader); err == nil {
				code = cookie.Value
			}
		}
		if code == "" {
			http.Error(w, "Not authenticated", http.StatusForbidden)
			return
		}

		c := codegen.Code(code)
		matchesCurrent := r.auth.Check(c)
		matchesNext := r.auth.CheckNext(c)
		if !matchesCurrent && !matchesNext {
			http.Error(w, "Invalid auth code", http.StatusUnauthorized)
			return
		}
		if matchesNext {
			r.auth.Advance(req.Context())
		}

		ctx := context.WithValue(req.Context(), authCodeCtxKey, c)
		next(w, req.WithContext(ctx))
	})
}

// withCORS allows the museum's own frontends (and FT_BASE_URL) to make
// credentialed cross-origin requests, matching footron_api/app.py's
// CORSMiddleware configuration.
func (r *Router) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if r.allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", authCodeHeader+", Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, PATCH, OPTIONS")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// isPolledAccess reports whether req is the high-frequency placard
// poll that footron_api/app.py's PolledEndpointsFilter drops from the
// access log.
func isPolledAccess(req *http.Request) bool {
	return req.Method == http.MethodGet && req.URL.Path == "/api/current"
}

// withAccessLog logs one line per request at Debug, via a hook that
// discards the event for the polled /api/current GET so normal
// operation doesn't spam logs at 1Hz, matching the original's
// PolledEndpointsFilter.
func (r *Router) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		polled := isPolledAccess(req)

		logger := r.log.Hook(zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
			if polled && level == zerolog.DebugLevel {
				e.Discard()
			}
		}))

		next.ServeHTTP(w, req)

		logger.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
