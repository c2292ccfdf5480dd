package middleware_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/channelhub/internal/middleware"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := middleware.GenerateToken("user-42", "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	userID, err := middleware.ParseToken(token, "secret")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("userID = %q, want user-42", userID)
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := middleware.GenerateToken("user-42", "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := middleware.ParseToken(token, "other-secret"); err == nil {
		t.Fatal("token signed with another secret must not validate")
	}
}

func TestParseTokenExpired(t *testing.T) {
	token, err := middleware.GenerateToken("user-42", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := middleware.ParseToken(token, "secret"); err == nil {
		t.Fatal("expired token must not validate")
	}
}

func TestParseTokenGarbage(t *testing.T) {
	if _, err := middleware.ParseToken("not-a-jwt", "secret"); err == nil {
		t.Fatal("garbage must not validate")
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/users/me", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	if got := middleware.ExtractToken(r); got != "abc.def.ghi" {
		t.Fatalf("ExtractToken = %q", got)
	}
}

func TestExtractTokenFromQuery(t *testing.T) {
	// WebSocket-клиенты передают токен query-параметром
	r := httptest.NewRequest("GET", "/api/ws?token=abc.def.ghi", nil)
	if got := middleware.ExtractToken(r); got != "abc.def.ghi" {
		t.Fatalf("ExtractToken = %q", got)
	}
}

func TestExtractTokenMissing(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/users/me", nil)
	if got := middleware.ExtractToken(r); got != "" {
		t.Fatalf("ExtractToken = %q, want empty", got)
	}
}

func TestMaskToken(t *testing.T) {
	if got := middleware.MaskToken("abcdefgh"); got != "abcd***" {
		t.Fatalf("MaskToken = %q, want abcd***", got)
	}
	if got := middleware.MaskToken("ab"); got != "****" {
		t.Fatalf("MaskToken = %q, want ****", got)
	}
}
