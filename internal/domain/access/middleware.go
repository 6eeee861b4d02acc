package access

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medgate/internal/domain/session/model"
)

const identityKey = "medgate.identity"

// TokenFromRequest pulls the session token from the configured cookie, falling
// back to a bearer Authorization header for non-browser clients.
func TokenFromRequest(c *gin.Context, cookieName string) string {
	if token, err := c.Cookie(cookieName); err == nil && token != "" {
		return token
	}
	const prefix = "Bearer "
	if auth := c.GetHeader("Authorization"); len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// RequireRole guards a route group with an explicit role allow-list. Every
// denial answers the same opaque 401 body regardless of the internal reason.
func (g *Gate) RequireRole(cookieName string, roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c, cookieName)
		decision := g.Check(c.Request.Context(), token, c.FullPath(), roles...)
		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "access denied",
			})
			return
		}
		c.Set(identityKey, decision.Identity)
		c.Next()
	}
}

// IdentityFrom retrieves the identity stored by RequireRole.
func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}, false
	}
	identity, ok := value.(model.Identity)
	return identity, ok
}
