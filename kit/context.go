// Package kit carries request-scoped values through context.Context so the
// HTTP layer, the sync engine and the audit trail agree on who asked for what.
package kit

import "context"

type contextKey string

const (
	UserIDKey     contextKey = "kit_user_id"
	RoleKey       contextKey = "kit_role"
	TransportKey  contextKey = "kit_transport" // "http", "cli"
	RequestIDKey  contextKey = "kit_request_id"
	TraceIDKey    contextKey = "kit_trace_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
)

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "http" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}

// Actor returns the user id for audit attribution, or "anonymous".
func Actor(ctx context.Context) string {
	if id := GetUserID(ctx); id != "" {
		return id
	}
	return "anonymous"
}
