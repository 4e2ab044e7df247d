package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/secure"
)

// Role is what an API key may do.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// secureHeaders sets the usual hardening headers on every response.
func secureHeaders(production bool, logger *slog.Logger) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !production,
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sm.Process(w, r); err != nil {
				logger.Warn("secure headers blocked request", slog.Any("error", err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// apiKeyAuth resolves the caller's role from X-API-Key (or a Bearer token).
// Viewers may only read. With no keys configured every caller is admin.
func apiKeyAuth(adminKeys, viewerKeys []string) func(http.Handler) http.Handler {
	open := len(adminKeys) == 0 && len(viewerKeys) == 0
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}

			var role Role
			switch {
			case key != "" && matchKey(key, adminKeys):
				role = RoleAdmin
			case key != "" && matchKey(key, viewerKeys):
				role = RoleViewer
			default:
				writeError(w, http.StatusUnauthorized, "missing or unknown API key", nil)
				return
			}

			if role == RoleViewer && !isReadOnly(r.Method) {
				writeError(w, http.StatusForbidden, "viewer keys are read-only", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matchKey(key string, keys []string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
