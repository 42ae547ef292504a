package auth

import (
	"context"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("FINBOOK_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("owner", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "owner" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "finbook" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	t.Setenv("FINBOOK_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("owner", time.Nanosecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	t.Setenv("FINBOOK_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("owner", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ParseAndValidate(token + "x"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestDisabledWithoutSecret(t *testing.T) {
	t.Setenv("FINBOOK_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if Enabled() {
		t.Fatal("auth should be disabled without a secret")
	}
	if _, err := GenerateToken("owner", time.Minute); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatal("unexpected user id on empty context")
	}
	ctx = ContextWithUser(ctx, "owner")
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "owner" {
		t.Fatalf("unexpected user id: %q ok=%v", id, ok)
	}
}
