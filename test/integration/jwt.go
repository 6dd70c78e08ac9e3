package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const signingKeyID = "riverside-idp-1"

// TestClaims describes the author a test token speaks for.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
	// Scope is the OAuth scope string, e.g. "openid rulesets:publish".
	Scope string
	// Audience replaces the audience the server expects when set.
	Audience string
}

// accessToken is the claim layout the club identity provider issues.
type accessToken struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Scope    string   `json:"scope,omitempty"`
}

// tokenIssuer plays the identity provider: it signs RS256 access tokens and
// publishes its key over a JWKS endpoint.
type tokenIssuer struct {
	key      *rsa.PrivateKey
	jwks     *httptest.Server
	issuer   string
	audience string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()
	key := mustRSAKey(t)

	doc, err := json.Marshal(map[string]any{"keys": []map[string]string{{
		"kid": signingKeyID,
		"kty": "RSA",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}})
	if err != nil {
		t.Fatalf("encode jwks: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)

	return &tokenIssuer{
		key:      key,
		jwks:     srv,
		issuer:   "https://auth.test.coachbuilder.dev",
		audience: "coachbuilder-test",
	}
}

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

func (ti *tokenIssuer) claims(c TestClaims, issuedAt time.Time) accessToken {
	aud := ti.audience
	if c.Audience != "" {
		aud = c.Audience
	}
	return accessToken{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   c.SubjectID,
			Audience:  jwt.ClaimStrings{aud},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
		TenantID: c.TenantID,
		Email:    c.Email,
		Roles:    c.Roles,
		Scope:    c.Scope,
	}
}

func (ti *tokenIssuer) sign(key *rsa.PrivateKey, claims accessToken) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		panic("sign access token: " + err.Error())
	}
	return signed
}

// GenerateToken returns a token valid for the next hour.
func (ti *tokenIssuer) GenerateToken(c TestClaims) string {
	return ti.sign(ti.key, ti.claims(c, time.Now()))
}

// GenerateExpiredToken returns a token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(c TestClaims) string {
	return ti.sign(ti.key, ti.claims(c, time.Now().Add(-2*time.Hour)))
}

// ForgeToken returns an otherwise valid token signed by key under the
// issuer's kid, as an attacker who knows the kid would.
func (ti *tokenIssuer) ForgeToken(key *rsa.PrivateKey, c TestClaims) string {
	return ti.sign(key, ti.claims(c, time.Now()))
}

// JWKSURL returns the URL of the JWKS endpoint served by this issuer.
func (ti *tokenIssuer) JWKSURL() string { return ti.jwks.URL }

// Issuer returns the expected token issuer claim.
func (ti *tokenIssuer) Issuer() string { return ti.issuer }

// Audience returns the expected token audience claim.
func (ti *tokenIssuer) Audience() string { return ti.audience }
