package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAccess_RoundTrip(t *testing.T) {
	c := NewCodec("test-secret")
	tok, err := c.IssueAccess("user-1", "a@example.com", "alice")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}
	p, err := c.VerifyAccess(tok)
	if err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}
	if p.Subject != "user-1" || p.Email != "a@example.com" || p.Username != "alice" || p.Type != Access {
		t.Errorf("VerifyAccess() payload = %+v", p)
	}
	if d := time.Until(p.ExpiresAt); d < 14*time.Minute || d > 15*time.Minute {
		t.Errorf("VerifyAccess() expiry in %v, want ~15m", d)
	}
}

func TestVerify(t *testing.T) {
	c := NewCodec("test-secret-key")
	good, err := c.IssueAccess("42", "x@example.com", "x")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Type: Access, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	noneTok, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		codec   *Codec
		token   string
		wantErr error
	}{
		{"valid token", c, good, nil},
		{"wrong secret", NewCodec("wrong-secret"), good, ErrInvalidSignature},
		{"tampered signature", c, tampered, ErrInvalidSignature},
		{"garbage", c, "invalid.token.here", ErrInvalidSignature},
		{"empty token", c, "", ErrInvalidSignature},
		{"alg none", c, noneTok, ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.codec.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && p.Subject != "42" {
				t.Errorf("Verify() Subject = %v, want 42", p.Subject)
			}
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	c := NewCodec("test-secret")
	tok, err := c.Issue(Payload{Subject: "1", Type: Access}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	p, err := c.Verify(tok)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() error = %v, want ErrExpired", err)
	}
	if p != nil {
		t.Error("Verify() should return nil payload for expired token")
	}
}

func TestVerify_ExpiresWithClock(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewCodec("s", WithClock(clock), WithAccessTTL(time.Minute))

	tok, err := c.IssueAccess("1", "e", "u")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}
	if _, err := c.Verify(tok); err != nil {
		t.Fatalf("Verify() fresh token error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() after ttl error = %v, want ErrExpired", err)
	}
}

func TestVerify_RequiresExpiry(t *testing.T) {
	c := NewCodec("s")
	tok, err := c.Issue(Payload{Subject: "1", Type: Access}, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := c.Verify(tok); err == nil {
		t.Error("Verify() accepted a token without exp")
	}
}

func TestVerifyAccess_RejectsRefreshWrapper(t *testing.T) {
	c := NewCodec("s")
	wrapped, err := c.WrapRefresh("u1", "secret")
	if err != nil {
		t.Fatalf("WrapRefresh() error = %v", err)
	}
	if _, err := c.VerifyAccess(wrapped); err == nil {
		t.Error("VerifyAccess() accepted a refresh credential")
	}
}

func TestWrapRefresh_RoundTrip(t *testing.T) {
	c := NewCodec("s")
	wrapped, err := c.WrapRefresh("u1", "opaque-secret")
	if err != nil {
		t.Fatalf("WrapRefresh() error = %v", err)
	}
	uid, secret, err := c.UnwrapRefresh(wrapped)
	if err != nil {
		t.Fatalf("UnwrapRefresh() error = %v", err)
	}
	if uid != "u1" || secret != "opaque-secret" {
		t.Errorf("UnwrapRefresh() = %s/%s", uid, secret)
	}

	access, _ := c.IssueAccess("u1", "e", "u")
	if _, _, err := c.UnwrapRefresh(access); !errors.Is(err, ErrWrongType) {
		t.Errorf("UnwrapRefresh(access) error = %v, want ErrWrongType", err)
	}
	if _, _, err := NewCodec("other").UnwrapRefresh(wrapped); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("UnwrapRefresh(wrong secret) error = %v, want ErrInvalidSignature", err)
	}
}
