// Package chat issues user tokens for the hosted chat service.
//
// The chat service authenticates a client with a JWT signed by the app's API
// secret whose only required claim is "user_id". The API key is public and
// is handed to the client alongside the token.
package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

// ErrNotConfigured is returned when no chat credentials were provided.
var ErrNotConfigured = errors.New("chat: credentials not configured")

// Credentials is what the client needs to open a chat connection.
type Credentials struct {
	APIKey string `json:"apiKey"`
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type userClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs chat user tokens. A nil *TokenIssuer is valid and
// reports ErrNotConfigured, so callers do not need to special-case a
// deployment without chat.
type TokenIssuer struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewTokenIssuer returns nil when either credential is empty.
// ttl of zero issues tokens without an expiry.
func NewTokenIssuer(apiKey, apiSecret string, ttl time.Duration, clk clock.Clock) *TokenIssuer {
	if apiKey == "" || apiSecret == "" {
		return nil
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &TokenIssuer{apiKey: apiKey, secret: []byte(apiSecret), ttl: ttl, clock: clk}
}

// Issue creates credentials for userID.
func (i *TokenIssuer) Issue(userID string) (Credentials, error) {
	if i == nil {
		return Credentials{}, ErrNotConfigured
	}
	if userID == "" {
		return Credentials{}, errors.New("chat: empty user id")
	}

	now := i.clock.Now()
	c := userClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return Credentials{}, fmt.Errorf("chat: signing token: %w", err)
	}
	return Credentials{APIKey: i.apiKey, UserID: userID, Token: signed}, nil
}
