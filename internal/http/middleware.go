package http

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type contextKey string

const userIDKey contextKey = "userID"

// Session extracts the authenticated user from a bearer token and places it
// in the request context. A missing or invalid token is not an error: sync
// is opportunistic and every endpoint works without a session.
func Session(secret string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			log.Debug().Err(err).Msg("ignoring invalid bearer token")
			c.Next()
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			c.Next()
			return
		}

		ctx := context.WithValue(c.Request.Context(), userIDKey, sub)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserFromContext resolves the authenticated user placed by Session.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
