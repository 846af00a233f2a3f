package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kevinmarty69/know-your-agent/internal/model"
)

type contextKey string

const workspaceIDKey contextKey = "workspace_id"

// workspaceContext requires the X-Workspace-Id header on every tenant
// route and stashes it in the request context. There is no token auth
// on tenant routes; the header is the trust boundary for local and
// behind-gateway deployments.
func workspaceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsID := r.Header.Get("X-Workspace-Id")
		if wsID == "" {
			writeErrorCode(w, http.StatusUnauthorized, "AUTH_WORKSPACE_MISSING", "Missing X-Workspace-Id header")
			return
		}
		ctx := context.WithValue(r.Context(), workspaceIDKey, wsID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// workspaceID returns the authenticated workspace from the context.
func workspaceID(r *http.Request) string {
	id, _ := r.Context().Value(workspaceIDKey).(string)
	return id
}

// ensureWorkspaceMatch rejects bodies that name a different workspace
// than the authenticated header context.
func ensureWorkspaceMatch(authWorkspaceID, requestWorkspaceID string) error {
	if authWorkspaceID != requestWorkspaceID {
		return model.NewError(model.KindAuthorization, string(model.ReasonWorkspaceMismatch), "workspace does not match authenticated context")
	}
	return nil
}

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
