package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestVerifyReturnsIdentityAndRefreshesOnUnknownKid(t *testing.T) {
	ctx := context.Background()
	key1 := generateKey(t)
	key2 := generateKey(t)

	active, activeKey := "kid-1", key1
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(active, activeKey.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(ctx, Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	id, err := v.Verify(ctx, sign(t, key1, "kid-1", claims{
		RegisteredClaims: registered("user-a", "issuer-a", "aud-a", time.Now()),
		Email:            "a@example.com",
		Name:             "Ada",
	}))
	if err != nil {
		t.Fatalf("verify token1: %v", err)
	}
	if id != (Identity{Subject: "user-a", Email: "a@example.com", Name: "Ada"}) {
		t.Fatalf("unexpected identity %+v", id)
	}

	active, activeKey = "kid-2", key2
	id, err = v.Verify(ctx, sign(t, key2, "kid-2", claims{
		RegisteredClaims: registered("user-b", "issuer-a", "aud-a", time.Now()),
	}))
	if err != nil {
		t.Fatalf("verify token2 after rotation: %v", err)
	}
	if id.Subject != "user-b" {
		t.Fatalf("unexpected subject %q", id.Subject)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	key := generateKey(t)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(ctx, Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a", Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "future issued at", token: sign(t, key, "kid-1", claims{RegisteredClaims: registered("u", "issuer-a", "aud-a", time.Now().Add(2*time.Minute))})},
		{name: "wrong audience", token: sign(t, key, "kid-1", claims{RegisteredClaims: registered("u", "issuer-a", "other", time.Now())})},
		{name: "wrong issuer", token: sign(t, key, "kid-1", claims{RegisteredClaims: registered("u", "other", "aud-a", time.Now())})},
		{name: "missing subject", token: sign(t, key, "kid-1", claims{RegisteredClaims: registered("", "issuer-a", "aud-a", time.Now())})},
		{name: "garbage", token: "not-a-token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(ctx, tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, Max-Age=120"); got != 2*time.Minute {
		t.Fatalf("unexpected ttl %v", got)
	}
	if got := parseCacheMaxAge("no-store"); got != 0 {
		t.Fatalf("unexpected ttl %v", got)
	}
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func registered(subject, issuer, audience string, issuedAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	}
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, c claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
