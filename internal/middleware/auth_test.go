package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/orderlyflow/internal/auth"
)

func TestRequireAuthNoToken(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)

	handler := RequireAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected error message in body")
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)

	handler := RequireAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	for _, header := range []string{"Bearer invalid-token", "Basic dXNlcjpwdw=="} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: status = %d, want %d", header, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireAuthValidToken(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	tok, err := tokens.Generate("u1", "alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var got auth.AuthContext
	handler := RequireAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got.UserID != "u1" || got.Email != "alice@example.com" {
		t.Errorf("auth context = %+v", got)
	}
}

func TestRequireAuthQueryToken(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	tok, _ := tokens.Generate("u2", "bob@example.com")

	var userID string
	handler := RequireAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = auth.UserID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/realtime/v1?access_token="+tok, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if userID != "u2" {
		t.Errorf("user id = %q, want %q", userID, "u2")
	}
}
