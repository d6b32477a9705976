package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("auth: token missing")
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims are the token claims minted by the identity service. AllowLocation
// mirrors the member's live-map opt-in at login time.
type Claims struct {
	UserID        string `json:"uid"`
	Name          string `json:"name"`
	AllowLocation bool   `json:"allow_location"`
	jwt.RegisteredClaims
}

// Verifier validates connect-time credentials. Both the websocket upgrade
// path and the REST middleware go through the same instance.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a bearer token. Any parse or signature
// failure, including expiry, maps to ErrTokenInvalid; the caller never
// admits the connection.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Sign mints a token for the given claims. The chat server itself only
// verifies; signing lives here for tests and local tooling.
func (v *Verifier) Sign(userID, name string, allowLocation bool, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:        userID,
		Name:          name,
		AllowLocation: allowLocation,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
