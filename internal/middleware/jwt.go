package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ragkit/ragkit/internal/pkg/errcode"
	"github.com/ragkit/ragkit/internal/pkg/jwt"
	"github.com/ragkit/ragkit/internal/pkg/response"
)

const (
	ContextUserIDKey = "user_id"
	ContextRoleKey   = "user_role"
)

func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, errcode.ErrUnauthorized, "invalid authorization")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(parts[1], secret)
		if err != nil {
			response.Error(c, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextRoleKey, claims.Role)
		c.Next()
	}
}

// RequireAdmin guards destructive operations: cache clear, forced cancel,
// rechunk and rebuild fan-outs.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextRoleKey)
		if role != jwt.RoleAdmin {
			response.Error(c, errcode.ErrForbidden, "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}
