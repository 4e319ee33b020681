package app

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth validates viewer bearer tokens: RS256 against a public key, or
// HS256 against a shared secret. Nil means auth is disabled.
type JWTAuth struct {
	secret []byte
	pubKey *rsa.PublicKey
}

// NewJWTAuth builds the validator from server config. Both mechanisms may be
// active at once; the token's alg selects which applies.
func NewJWTAuth(cfg *ServerConfig) (*JWTAuth, error) {
	if cfg.JWTSecret == "" && cfg.JWTPubKey == "" {
		return nil, nil
	}
	a := &JWTAuth{}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	if cfg.JWTPubKey != "" {
		pem, err := os.ReadFile(cfg.JWTPubKey)
		if err != nil {
			return nil, fmt.Errorf("jwt public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("jwt public key: %w", err)
		}
		a.pubKey = key
	}
	return a, nil
}

// Validate parses and verifies a bearer token string.
func (a *JWTAuth) Validate(tokenStr string) error {
	_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodRS256.Alg():
			if a.pubKey == nil {
				return nil, fmt.Errorf("RS256 not configured")
			}
			return a.pubKey, nil
		case jwt.SigningMethodHS256.Alg():
			if a.secret == nil {
				return nil, fmt.Errorf("HS256 not configured")
			}
			return a.secret, nil
		default:
			return nil, fmt.Errorf("unexpected alg %s", t.Method.Alg())
		}
	}, jwt.WithValidMethods([]string{"RS256", "HS256"}), jwt.WithExpirationRequired())
	return err
}

// Middleware rejects requests without a valid bearer token. A nil JWTAuth
// passes everything through.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	fn := func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if err := a.Validate(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
