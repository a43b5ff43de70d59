package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"maps"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "test-key-1"

// TestClaims are the identity claims of a test token. Extra entries are
// copied over the generated claims last, so they can override iss, aud or
// exp.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer plays the identity provider: it signs RS256 tokens and
// publishes the public key on a JWKS endpoint.
type tokenIssuer struct {
	key      *rsa.PrivateKey
	jwks     *httptest.Server
	issuer   string
	audience string
}

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key := newRSAKey(t)
	set := struct {
		Keys []jsonWebKey `json:"keys"`
	}{Keys: []jsonWebKey{{
		Kid: testKeyID,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	return &tokenIssuer{
		key:      key,
		jwks:     srv,
		issuer:   "https://auth.test.approvals.dev",
		audience: "approvals-test",
	}
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

// claims builds the registered and identity claims valid from issuedAt for
// one hour.
func (ti *tokenIssuer) claims(c TestClaims, issuedAt time.Time) jwt.MapClaims {
	mc := jwt.MapClaims{
		"iss":       ti.issuer,
		"aud":       ti.audience,
		"iat":       jwt.NewNumericDate(issuedAt),
		"exp":       jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		"sub":       c.SubjectID,
		"tenant_id": c.TenantID,
	}
	if c.Email != "" {
		mc["email"] = c.Email
	}
	if len(c.Roles) > 0 {
		roles := make([]any, 0, len(c.Roles))
		for _, r := range c.Roles {
			roles = append(roles, r)
		}
		mc["roles"] = roles
	}
	maps.Copy(mc, c.Extra)
	return mc
}

func sign(claims jwt.MapClaims, key *rsa.PrivateKey) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateToken returns a valid token for c.
func (ti *tokenIssuer) GenerateToken(c TestClaims) string {
	return sign(ti.claims(c, time.Now()), ti.key)
}

// GenerateExpiredToken returns a token for c that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(c TestClaims) string {
	return sign(ti.claims(c, time.Now().Add(-2*time.Hour)), ti.key)
}

// SignWithKey returns a token for c that carries the published kid but is
// signed by key.
func (ti *tokenIssuer) SignWithKey(c TestClaims, key *rsa.PrivateKey) string {
	return sign(ti.claims(c, time.Now()), key)
}

// UnsignedToken returns c as an "alg: none" token.
func (ti *tokenIssuer) UnsignedToken(c TestClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, ti.claims(c, time.Now()))
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// JWKSURL is the URL of the issuer's key set.
func (ti *tokenIssuer) JWKSURL() string { return ti.jwks.URL }

// Issuer is the iss claim of issued tokens.
func (ti *tokenIssuer) Issuer() string { return ti.issuer }

// Audience is the aud claim of issued tokens.
func (ti *tokenIssuer) Audience() string { return ti.audience }
