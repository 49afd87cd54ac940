package identity

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxClaims = "pbsnet_claims"

// RequireToken returns a Gin middleware that enforces a bearer session token.
// A missing Authorization header is 401; a present but unusable token is 403.
func RequireToken(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Access Denied: No Token",
			})
			return
		}

		// The auth scheme is case-insensitive (RFC 7235).
		fields := strings.Fields(authHeader)
		if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or Expired Token"})
			return
		}
		claims, err := tokens.Verify(fields[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or Expired Token"})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireAdminSecret returns a Gin middleware that admits requests whose
// X-Admin-Secret header equals secret. An empty secret admits nobody.
func RequireAdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Access Denied: Admin Secret Required",
			})
			return
		}
		c.Next()
	}
}

// ClaimsFromCtx returns the claims stored by RequireToken, or nil.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}
