package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

func jwkFor(key *rsa.PrivateKey, kid string) JWKSKey {
	pub := &key.PublicKey
	return JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// staticJWKSServer serves a fixed key set and counts fetches.
func staticJWKSServer(t *testing.T, keys func() []JWKSKey, fetches *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			*fetches++
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{Keys: keys()})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func discoveryServer(t *testing.T, doc map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOIDCDiscovery(t *testing.T) {
	jwks := staticJWKSServer(t, func() []JWKSKey { return nil }, nil)
	srv := discoveryServer(t, map[string]interface{}{
		"issuer":                 "https://idp.example.com",
		"authorization_endpoint": "https://idp.example.com/authorize",
		"token_endpoint":         "https://idp.example.com/token",
		"userinfo_endpoint":      "https://idp.example.com/userinfo",
		"jwks_uri":               jwks.URL,
		"scopes_supported":       []string{"openid", "profile", "email"},
	})

	provider, err := NewOIDCProvider(srv.URL)
	if err != nil {
		t.Fatalf("discovery: %v", err)
	}
	if provider.TokenEndpoint != "https://idp.example.com/token" {
		t.Errorf("unexpected token endpoint: %s", provider.TokenEndpoint)
	}
	if provider.JWKSURI != jwks.URL {
		t.Errorf("unexpected jwks_uri: %s", provider.JWKSURI)
	}
	if !provider.SupportsScope("openid") || provider.SupportsScope("offline_access") {
		t.Errorf("SupportsScope misreports: %v", provider.ScopesSupported)
	}
	if provider.JWKSKeyFunc() == nil {
		t.Error("JWKSKeyFunc returned nil")
	}
}

func TestOIDCDiscovery_Failures(t *testing.T) {
	t.Run("endpoint 404", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
		t.Cleanup(srv.Close)
		if _, err := NewOIDCProvider(srv.URL); err == nil {
			t.Fatal("expected error for 404 discovery endpoint")
		}
	})
	t.Run("unreachable issuer", func(t *testing.T) {
		if _, err := NewOIDCProvider("http://127.0.0.1:1"); err == nil {
			t.Fatal("expected error for unreachable issuer")
		}
	})
	t.Run("missing jwks_uri", func(t *testing.T) {
		srv := discoveryServer(t, map[string]interface{}{
			"issuer":         "https://idp.example.com",
			"token_endpoint": "https://idp.example.com/token",
		})
		if _, err := NewOIDCProvider(srv.URL); err == nil {
			t.Fatal("expected error for document without jwks_uri")
		}
	})
}

func TestJWKSCache_FetchAndHit(t *testing.T) {
	key := testRSAKey(t)
	fetches := 0
	srv := staticJWKSServer(t, func() []JWKSKey {
		return []JWKSKey{jwkFor(key, "k1")}
	}, &fetches)

	cache := NewJWKSCache(srv.URL, 10*time.Minute)

	got, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
		t.Error("fetched key does not match the served key")
	}

	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("cache hit: %v", err)
	}
	if fetches != 1 {
		t.Errorf("second lookup within TTL must not refetch, got %d fetches", fetches)
	}
}

func TestJWKSCache_RefreshFindsRotatedKey(t *testing.T) {
	key1, key2 := testRSAKey(t), testRSAKey(t)
	fetches := 0
	srv := staticJWKSServer(t, func() []JWKSKey {
		if fetches == 0 {
			return []JWKSKey{jwkFor(key1, "old")}
		}
		return []JWKSKey{jwkFor(key1, "old"), jwkFor(key2, "new")}
	}, &fetches)

	cache := NewJWKSCache(srv.URL, time.Millisecond)
	if _, err := cache.GetKey("old"); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	got, err := cache.GetKey("new")
	if err != nil {
		t.Fatalf("rotated key lookup: %v", err)
	}
	if got.N.Cmp(key2.PublicKey.N) != 0 {
		t.Error("rotated key does not match")
	}
	if fetches < 2 {
		t.Errorf("rotation requires a refetch, got %d fetches", fetches)
	}
}

func TestJWKSCache_ExpiryTriggersRefetch(t *testing.T) {
	key := testRSAKey(t)
	fetches := 0
	srv := staticJWKSServer(t, func() []JWKSKey {
		return []JWKSKey{jwkFor(key, "k1")}
	}, &fetches)

	cache := NewJWKSCache(srv.URL, time.Millisecond)
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatal(err)
	}
	before := fetches

	time.Sleep(5 * time.Millisecond)
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatal(err)
	}
	if fetches <= before {
		t.Error("expected a refetch after the TTL lapsed")
	}
}

func TestJWKSCache_Failures(t *testing.T) {
	t.Run("unknown kid", func(t *testing.T) {
		srv := staticJWKSServer(t, func() []JWKSKey {
			return []JWKSKey{jwkFor(testRSAKey(t), "known")}
		}, nil)
		cache := NewJWKSCache(srv.URL, 10*time.Minute)
		if _, err := cache.GetKey("unknown"); err == nil {
			t.Fatal("expected error for a kid the set does not contain")
		}
	})
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)
		cache := NewJWKSCache(srv.URL, 10*time.Minute)
		if _, err := cache.GetKey("any"); err == nil {
			t.Fatal("expected error when the JWKS endpoint fails")
		}
	})
}

func TestParseRSAPublicKey(t *testing.T) {
	key := testRSAKey(t)

	parsed, err := parseRSAPublicKey(jwkFor(key, "k1"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.N.Cmp(key.PublicKey.N) != 0 || parsed.E != key.PublicKey.E {
		t.Error("parsed key does not round-trip")
	}

	bad := jwkFor(key, "k1")
	bad.N = "!!!not-base64!!!"
	if _, err := parseRSAPublicKey(bad); err == nil {
		t.Error("expected error for invalid modulus")
	}

	bad = jwkFor(key, "k1")
	bad.E = "!!!not-base64!!!"
	if _, err := parseRSAPublicKey(bad); err == nil {
		t.Error("expected error for invalid exponent")
	}
}

func TestJWKSKeyFunc_RequiresKidHeader(t *testing.T) {
	srv := staticJWKSServer(t, func() []JWKSKey { return nil }, nil)
	keyFunc := jwksKeyFunc(srv.URL)

	_, err := keyFunc(&jwt.Token{Header: map[string]interface{}{}})
	if err == nil {
		t.Fatal("expected error for token without kid")
	}
	if !strings.Contains(err.Error(), "kid") {
		t.Errorf("error should name the missing header: %v", err)
	}
}
