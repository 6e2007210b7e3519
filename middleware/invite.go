package middleware

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// InviteValidator checks invite tokens for approval-gated sessions. A
// valid token is an HMAC JWT whose "session" claim matches the session the
// user is trying to join.
type InviteValidator struct {
	Secret []byte
}

func (v *InviteValidator) Validate(sessionID, tokenString string) bool {
	if len(v.Secret) == 0 || tokenString == "" {
		return false
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	session, _ := claims["session"].(string)
	return session == sessionID
}

// NewInviteToken mints an invite token for a session, used by hosts when
// approval is required.
func (v *InviteValidator) NewInviteToken(sessionID string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"session": sessionID,
		"exp":     time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(v.Secret)
}
