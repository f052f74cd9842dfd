package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/caseflowhq/caseflow/internal/auth"
	"github.com/caseflowhq/caseflow/pkg/errors"
	"github.com/caseflowhq/caseflow/pkg/response"
)

const (
	CtxClaimsKey   = "authClaims"
	CtxUserIDKey   = "userID"
	CtxTenantIDKey = "tenantID"
	CtxRoleKey     = "role"
)

// Auth enforces JWT authentication using the supplied JWT service. The token
// is taken from the Authorization header, or from the token query parameter
// for websocket upgrades where custom headers are unavailable.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.Error(c, errors.ErrAuthenticationRequired)
			c.Abort()
			return
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrAuthenticationRequired)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxTenantIDKey, claims.TenantID)
		c.Set(CtxRoleKey, claims.Role)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}
