package kit

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithUserID(ctx, "u-1")
	ctx = WithRole(ctx, "planner")
	ctx = WithRequestID(ctx, "req_1")
	ctx = WithTraceID(ctx, "abcd")
	ctx = WithRemoteAddr(ctx, "10.0.0.1")
	ctx = WithTransport(ctx, "cli")

	checks := []struct {
		name, got, want string
	}{
		{"user", GetUserID(ctx), "u-1"},
		{"role", GetRole(ctx), "planner"},
		{"request", GetRequestID(ctx), "req_1"},
		{"trace", GetTraceID(ctx), "abcd"},
		{"remote", GetRemoteAddr(ctx), "10.0.0.1"},
		{"transport", GetTransport(ctx), "cli"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, c.got, c.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	if got := GetTransport(ctx); got != "http" {
		t.Errorf("transport default = %q, want http", got)
	}
	if got := Actor(ctx); got != "anonymous" {
		t.Errorf("actor default = %q, want anonymous", got)
	}
	if got := Actor(WithUserID(ctx, "u-9")); got != "u-9" {
		t.Errorf("actor = %q, want u-9", got)
	}
}
