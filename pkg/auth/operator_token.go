package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	ScopeRead      = "limits:read"
	ScopeWrite     = "limits:write"
	ScopeNegotiate = "negotiate"
)

type OperatorClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// OperatorTokenManager issues and validates the HS256 tokens presented to
// the control API.
type OperatorTokenManager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewOperatorTokenManager(signingKey []byte, ttl time.Duration) *OperatorTokenManager {
	return &OperatorTokenManager{signingKey: signingKey, ttl: ttl}
}

func (m *OperatorTokenManager) GenerateToken(subject string, scopes ...string) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   subject,
			Issuer:    "startlimit",
		},
		Scope: strings.Join(scopes, ","),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *OperatorTokenManager) ValidateToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer("startlimit"))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (c *OperatorClaims) HasScope(required string) bool {
	scopes := strings.Split(c.Scope, ",")
	for _, scope := range scopes {
		if scope == required {
			return true
		}
	}
	return false
}
