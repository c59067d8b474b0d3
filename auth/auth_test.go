package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/cablesync/kit"
)

var testSecret = bytes.Repeat([]byte("k"), 32)

func TestGenerateAndValidate(t *testing.T) {
	tok, err := GenerateToken(testSecret, &Claims{UserID: "u-1", Role: "planner"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := ValidateToken(testSecret, tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID != "u-1" || c.Role != "planner" {
		t.Errorf("claims = %+v", c)
	}
}

func TestGenerate_ShortSecret(t *testing.T) {
	if _, err := GenerateToken([]byte("short"), &Claims{UserID: "u"}, time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestValidate_Expired(t *testing.T) {
	tok, err := GenerateToken(testSecret, &Claims{UserID: "u-1"}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(testSecret, tok); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	tok, _ := GenerateToken(testSecret, &Claims{UserID: "u-1"}, time.Hour)
	if _, err := ValidateToken(bytes.Repeat([]byte("x"), 32), tok); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestMiddleware_RequireAuth(t *testing.T) {
	var seenUser string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = kit.GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(testSecret)(RequireAuth("planner")(inner))

	tests := []struct {
		name   string
		claims *Claims
		want   int
	}{
		{"no token", nil, http.StatusUnauthorized},
		{"wrong role", &Claims{UserID: "u-2", Role: "viewer"}, http.StatusForbidden},
		{"allowed", &Claims{UserID: "u-3", Role: "planner"}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.claims != nil {
				tok, err := GenerateToken(testSecret, tt.claims, time.Hour)
				if err != nil {
					t.Fatal(err)
				}
				req.Header.Set("Authorization", "Bearer "+tok)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if seenUser != "u-3" {
		t.Errorf("kit user id = %q, want u-3", seenUser)
	}
}
