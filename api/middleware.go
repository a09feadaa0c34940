package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/superlink/voucher-engine/auth"
	"go.uber.org/zap"
)

// devPrincipal is used when token verification is disabled.
var devPrincipal = auth.Principal{UserID: "local-dev", Role: auth.RoleAdmin}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("ip", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
			}

			switch {
			case status >= 500:
				logger.Error("request failed", fields...)
			case status >= 400:
				logger.Warn("client error", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}

// Authenticate verifies "Authorization: Bearer <token>" and stores the
// caller in the request context. With no verifier every request runs as
// a local admin.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Verifier == nil {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), devPrincipal)))
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Missing authorization header", Code: "unauthorized"})
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid authorization header", Code: "unauthorized"})
			return
		}

		claims, err := h.Verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			msg := "Invalid session token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "Session expired"
			}
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: msg, Code: "unauthorized"})
			return
		}

		p := auth.Principal{UserID: claims.UserID, Role: claims.Role, TenantID: claims.TenantID}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// Require rejects callers whose role lacks action.
func (h *Handler) Require(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated", Code: "unauthorized"})
				return
			}
			if h.Authorizer != nil {
				if err := h.Authorizer.Authorize(p, action); err != nil {
					h.writeEngineError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
