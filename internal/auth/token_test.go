package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	tok, err := tokens.Generate("u1", "alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	ac, err := tokens.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ac.UserID != "u1" || ac.Email != "alice@example.com" {
		t.Errorf("auth context = %+v", ac)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	tok, err := NewTokens("secret", time.Hour).Generate("u1", "a@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokens("other", time.Hour).Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenExpired(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err := tokens.Generate("u1", "a@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tokens.now = time.Now
	if _, err := tokens.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewTokens("secret", time.Hour).Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	if _, err := NewTokens("secret", time.Hour).Parse("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
