package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ltvesari/pt-tracker/internal/models"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Context keys set by AuthMiddleware.
const (
	CurrentUserKey    = "currentUser"
	CurrentSessionKey = "currentSession"
)

// TokenCookie is the optional cookie carrying the access token.
const TokenCookie = "ptt_token"

// AuthMiddleware validates the JWT, checks that its session is still live and
// stores the user and session in the context.
func AuthMiddleware(jwtSecret string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not authenticated")
			c.Abort()
			return
		}

		claims, err := util.ParseToken(jwtSecret, tokenStr)
		if err != nil || claims.ID == "" {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "token invalid or expired")
			c.Abort()
			return
		}

		var session models.Session
		if err := db.First(&session, "id = ?", claims.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				util.Error(c, http.StatusUnauthorized, util.CodeAuth, "session not found")
			} else {
				util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "session lookup failed")
			}
			c.Abort()
			return
		}
		if session.Revoked || session.UserID != claims.UserID || time.Now().After(session.ExpiresAt) {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "session ended, please log in again")
			c.Abort()
			return
		}

		var user models.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				util.Error(c, http.StatusUnauthorized, util.CodeAuth, "user not found")
			} else {
				util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "user lookup failed")
			}
			c.Abort()
			return
		}

		c.Set(CurrentUserKey, &user)
		c.Set(CurrentSessionKey, &session)
		c.Next()
	}
}

// extractToken looks at the Authorization header, then ?token= (downloads),
// then the cookie.
func extractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if t := c.Query("token"); t != "" {
		return t
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil {
		return cookie
	}
	return ""
}

// RequireAdmin lets only admin accounts through. It must run after
// AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _ := c.Get(CurrentUserKey)
		user, ok := v.(*models.User)
		if !ok || user == nil || !user.IsAdmin {
			util.Error(c, http.StatusForbidden, util.CodeForbidden, "admin privileges required")
			c.Abort()
			return
		}
		c.Next()
	}
}
