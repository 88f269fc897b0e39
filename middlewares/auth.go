package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"shop-service/models"
)

const identityKey = "identity"

// TokenParser resolves a bearer token to the caller identity.
type TokenParser interface {
	Parse(token string) (models.Identity, error)
}

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

// AuthMiddleware requires a valid "Authorization: Bearer <token>" header.
func AuthMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		identity, err := tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// AdminOnly must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if !identity.IsAdmin() {
			abortJSON(c, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		c.Next()
	}
}

func CurrentIdentity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	identity, ok := v.(models.Identity)
	return identity, ok
}
