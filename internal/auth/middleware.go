package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminAuth enforces bearer JWT tokens signed with HS256 and a
// non-empty admin level. When requireEdit is set, only "edit" tokens
// pass; "read-only" tokens are rejected with 403.
func AdminAuth(signingKey, issuer string, requireEdit bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.AdminLevel == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not an administrator"})
			return
		}
		if requireEdit && claims.AdminLevel != "edit" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "edit access required"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}
