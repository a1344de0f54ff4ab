package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDContextKey = "carcare.user_id"

// Middleware rejects requests without a valid bearer token and exposes the
// token subject through UserIDFromContext.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader(s.headerName))
		if !ok {
			unauthorized(c, "authorization required")
			return
		}
		userID, err := s.ValidateToken(token)
		switch {
		case errors.Is(err, errTokenExpired):
			unauthorized(c, "token expired")
			return
		case err != nil:
			unauthorized(c, "invalid token")
			return
		}
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// UserIDFromContext returns the id of the authenticated caller.
func UserIDFromContext(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	return userID, userID != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="carcare"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
