package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	pkgjwt "github.com/pulsefeed/social-graph-service/pkg/jwt"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	RolesKey      = "roles"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// AuthMiddleware validates bearer tokens and exposes the caller identity.
type AuthMiddleware struct {
	verifier *pkgjwt.Verifier
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(verifier *pkgjwt.Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth returns a Gin middleware that validates the access token and
// stores the caller's user id in the request context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization format",
			})
			return
		}

		token := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := m.verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Set(RolesKey, claims.Roles)

		c.Next()
	}
}

// GetUserID returns the authenticated user id, or "" if not authenticated.
func GetUserID(c *gin.Context) string {
	if v, ok := c.Get(UserIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
