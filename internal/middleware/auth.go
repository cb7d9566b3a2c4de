package middleware

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// requestToken reads the bearer token. Browsers cannot set headers on a websocket
// handshake, so upgrade requests may carry it as ?token= instead.
func requestToken(c *gin.Context) string {
	if scheme, tok, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

// AuthMiddleware verifies the token and stores the caller's claims on the context.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := requestToken(c)
		if tok == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tok, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("Rejected token", zap.String("path", c.FullPath()), zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		util.SetUser(c, claims)
		c.Next()
	}
}

// RoleMiddleware admits the listed roles; admins pass every role check.
func RoleMiddleware(roles ...model.UserRole) gin.HandlerFunc {
	allowed := make(map[model.UserRole]bool, len(roles)+1)
	allowed[model.Admin] = true
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}
		if !allowed[user.Role] {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
