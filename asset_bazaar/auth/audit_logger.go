package auth

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ClientIp prefers the proxy headers set by the ingress over the socket address.
func ClientIp(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if r.RemoteAddr == "" {
		return "Unknown"
	}
	// The port differs between connections from the same client.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// targetAttrs lists the asset, request, alert or user ids the route acts on.
func targetAttrs(r *http.Request) []interface{} {
	attrs := make([]interface{}, 0)

	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return attrs
	}

	for i, key := range rctx.URLParams.Keys {
		if key == "*" || !strings.HasSuffix(key, "_id") && key != "role" {
			continue
		}
		attrs = append(attrs, slog.String(key, rctx.URLParams.Values[i]))
	}
	return attrs
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// AuditLogger writes one JSON line for every state changing request made by a
// signed in user, after the request has been handled.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(stream io.Writer) AuditLogger {
	return AuditLogger{logger: slog.New(slog.NewJSONHandler(stream, nil))}
}

func (log *AuditLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isReadOnly(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		user, err := UserFromContext(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.logger.Info("audit",
			"user_id", user.Id,
			"username", user.Username,
			"roles", user.Roles,
			"client_ip", ClientIp(r),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			slog.Group("target", targetAttrs(r)...),
		)
	})
}
