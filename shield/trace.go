package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/cablesync/idgen"
	"github.com/hazyhaar/cablesync/kit"
)

// TraceID assigns a request id to each request and injects it into the
// context (kit.RequestIDKey and kit.TraceIDKey), the X-Request-ID response
// header, and a per-request structured logger stored under LoggerKey.
// An incoming X-Request-ID header is reused.
func TraceID(gen idgen.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" || len(reqID) > 128 {
				reqID = gen()
			}

			ctx := kit.WithRequestID(r.Context(), reqID)
			ctx = kit.WithTraceID(ctx, reqID)
			ctx = kit.WithTransport(ctx, "http")
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			w.Header().Set("X-Request-ID", reqID)

			logger := slog.Default().With(
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
