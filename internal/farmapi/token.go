package farmapi

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired reports whether the auth token's exp claim lies within skew of
// now. The signature is deliberately not verified: the token was issued by
// the remote API and we only inspect it to decide whether re-authentication
// is needed before a farming cycle, instead of burning an attempt on a
// guaranteed 401.
//
// Tokens that do not parse as JWTs or carry no exp claim are treated as
// not expired; the server remains the authority on their validity.
func TokenExpired(token string, skew time.Duration) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return time.Now().Add(skew).After(exp.Time)
}
