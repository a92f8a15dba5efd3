package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/internal/security"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"

	// ServiceTokenHeader carries the shared secret of trusted platform services.
	ServiceTokenHeader = "X-Service-Token"
)

// ErrorBody is the JSON shape of every rejected request.
type ErrorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Status: "error", Code: code, Message: message})
}

// Auth validates the bearer token and stores the caller's user id and role
// on the context.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "missing bearer token")
			return
		}

		claims, err := security.ValidateJWT(strings.TrimSpace(token), secret)
		if err != nil {
			logger.Debug("Rejected access token", "ip", c.ClientIP(), "error", err)
			abort(c, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c) != security.RoleAdmin {
			userID, _ := UserID(c)
			logger.Warn("Non-admin attempted admin access", "user_id", userID, "path", c.FullPath())
			abort(c, http.StatusForbidden, errors.ErrCodeForbidden, "admin access required")
			return
		}
		c.Next()
	}
}

// ServiceToken guards the internal API used by the battle and account
// services.
func ServiceToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !security.TokensEqual(c.GetHeader(ServiceTokenHeader), token) {
			logger.Warn("Rejected internal call", "ip", c.ClientIP(), "path", c.FullPath())
			abort(c, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "invalid service token")
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id > 0
}

func Role(c *gin.Context) string {
	return c.GetString(ctxRole)
}
