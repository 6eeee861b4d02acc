package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenCodec signs and verifies the session token handed to clients. The
// token carries only the session identifier and lifetime; every other field
// stays server-side so a tampered payload buys nothing.
type TokenCodec struct {
	secretKey []byte
}

// NewTokenCodec builds a codec using the provided signing secret.
func NewTokenCodec(secretKey string) (*TokenCodec, error) {
	if secretKey == "" {
		return nil, errors.New("session token secret must not be empty")
	}
	return &TokenCodec{secretKey: []byte(secretKey)}, nil
}

// Sign issues a signed token for the session identifier.
func (c *TokenCodec) Sign(sessionID string, expiresAt time.Time) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id must not be empty")
	}

	claims := jwt.MapClaims{
		"sid": sessionID,
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(c.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return tokenString, nil
}

// Verify validates the token and extracts the session identifier. A failed
// signature or malformed payload is ErrSessionInvalid; a lapsed exp claim is
// ErrSessionExpired. The payload is never trusted past this check.
func (c *TokenCodec) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrSessionExpired
		}
		return "", ErrSessionInvalid
	}
	if !token.Valid {
		return "", ErrSessionInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrSessionInvalid
	}
	sessionID, ok := claims["sid"].(string)
	if !ok || sessionID == "" {
		return "", ErrSessionInvalid
	}
	return sessionID, nil
}
