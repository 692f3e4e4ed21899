package platform

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/uplinq/uplinq/internal/errors"
)

// Session identifies the authenticated member everything else runs as.
// All realtime subsystems take the user id from here instead of reading
// ambient state.
type Session struct {
	UserID   string
	Email    string
	Username string
}

// SessionFromToken validates a signed access token and extracts the
// member identity from its claims
func SessionFromToken(tokenString string, secret []byte) (*Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, errors.Unauthorized("invalid access token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.Unauthorized("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.Unauthorized("missing subject claim")
	}

	session := &Session{UserID: sub}
	if email, ok := claims["email"].(string); ok {
		session.Email = email
	}
	if username, ok := claims["username"].(string); ok {
		session.Username = username
	}
	return session, nil
}
