package rest

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cellmesh/cellmesh/internal/application/auth"
)

const ContextKeyPrincipal = "principal"

type AuthMiddleware struct {
	broker auth.Broker
}

func NewAuthMiddleware(broker auth.Broker) *AuthMiddleware {
	return &AuthMiddleware{broker: broker}
}

// RequireAuth resolves the bearer token into a principal id and stores it on
// the gin context; requests without a valid token are rejected before any
// handler runs.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			respondAPIError(c, NewAPIError("UNAUTHORIZED", "missing bearer token", http.StatusUnauthorized))
			c.Abort()
			return
		}
		principal, err := m.broker.Authenticate(c.Request.Context(), token)
		if err != nil {
			respondAPIError(c, NewAPIError("UNAUTHORIZED", "invalid or expired token", http.StatusUnauthorized))
			c.Abort()
			return
		}
		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, prefix))
	}
	return c.Query("token")
}

// Principal returns the authenticated principal id set by RequireAuth.
func Principal(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return "", false
	}
	principal, ok := v.(string)
	return principal, ok
}
