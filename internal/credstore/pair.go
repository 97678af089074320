package credstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Pair is the access/refresh credential pair issued by the API.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IsZero reports whether neither token is set.
func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Validate returns ErrIncompletePair unless both tokens are set.
func (p Pair) Validate() error {
	if p.AccessToken == "" || p.RefreshToken == "" {
		return ErrIncompletePair
	}
	return nil
}

// Token converts the pair to an oauth2.Token.
//
// Tokens are opaque to the client, but when the access token happens to be a
// JWT its exp claim is surfaced as Expiry. The signature is not checked; the
// value is only a hint for renewing ahead of the server's verdict.
func (p Pair) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       accessExpiry(p.AccessToken),
	}
}

// accessExpiry returns the exp claim of a JWT access token, or the zero time.
func accessExpiry(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
