package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity provider's view of a principal.
type Claims struct {
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

type JWTValidator struct {
	method    jwt.SigningMethod
	publicKey *rsa.PublicKey
	secret    []byte
}

// NewJWTValidatorRS256 loads an RSA public key from filesystem
func NewJWTValidatorRS256(pubPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTValidator{method: jwt.SigningMethodRS256, publicKey: pub}, nil
}

func NewJWTValidatorHS256(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("empty hs256 secret")
	}
	return &JWTValidator{method: jwt.SigningMethodHS256, secret: []byte(secret)}, nil
}

// NewJWTValidator picks the validator for alg ("RS256" or "HS256").
func NewJWTValidator(alg, publicKeyPath, secret string) (*JWTValidator, error) {
	switch strings.ToUpper(alg) {
	case "RS256":
		return NewJWTValidatorRS256(publicKeyPath)
	case "HS256":
		return NewJWTValidatorHS256(secret)
	default:
		return nil, fmt.Errorf("unsupported jwt alg %q", alg)
	}
}

// Validate returns the principal named by the token. The id comes from "sub", falling back
// to "user_id".
func (j *JWTValidator) Validate(tokenStr string) (*domain.Principal, error) {
	if tokenStr == "" {
		return nil, errors.New("empty token")
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		if j.publicKey != nil {
			return j.publicKey, nil
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if id == "" {
		return nil, errors.New("sub claim missing")
	}
	return &domain.Principal{
		ID:          id,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}, nil
}

// Sign issues an HS256 token for p. Only available on HS256 validators; used by tooling and
// tests.
func (j *JWTValidator) Sign(p domain.Principal, exp time.Time) (string, error) {
	if j.secret == nil {
		return "", errors.New("signing requires an hs256 validator")
	}
	claims := Claims{
		Email:   p.Email,
		Name:    p.DisplayName,
		Picture: p.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
