// Package auth issues and verifies the session tokens the CRM frontend sends.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rotisserie/eris"
)

var (
	ErrInvalidToken = eris.New("invalid session token")
	ErrMissingUser  = eris.New("session token has no subject")
)

// SessionClaims identify the signed-in user.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *SessionClaims) UserID() string { return c.Subject }

// GenerateSessionToken signs an HS256 session token for userID valid for ttl.
func GenerateSessionToken(userID, email string, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrMissingUser
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, eris.Wrap(err, "failed to sign session token")
	}
	return signed, expiresAt, nil
}

// ParseSessionToken verifies signature, algorithm and expiry.
func ParseSessionToken(tokenString string, secret []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, eris.Wrap(ErrInvalidToken, err.Error())
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingUser
	}
	return claims, nil
}
