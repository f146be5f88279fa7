package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flowforge/startlimit/pkg/auth"
	"github.com/flowforge/startlimit/pkg/config"
)

const claimsKey = "operator_claims"

// Auth validates operator bearer tokens. An empty jwt_secret disables
// authentication entirely.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	if cfg.JWTSecret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	tokens := auth.NewOperatorTokenManager([]byte(cfg.JWTSecret), cfg.TokenTTL)

	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}
		claims, err := tokens.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireScope rejects requests whose token lacks scope. Requests that passed
// through a disabled Auth carry no claims and are allowed.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get(claimsKey)
		if !ok {
			c.Next()
			return
		}
		claims, ok := value.(*auth.OperatorClaims)
		if !ok || !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing scope " + scope})
			return
		}
		c.Next()
	}
}
