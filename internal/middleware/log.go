package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/ltvesari/pt-tracker/internal/logger"
	"github.com/ltvesari/pt-tracker/internal/models"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAuditBody bounds how much of a request body is kept in an audit entry.
const maxAuditBody = 2000

// AuditMiddleware records every mutating request of a logged-in user. Path
// and action are stored encrypted with encryptKey.
func AuditMiddleware(db *gorm.DB, encryptKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mutating(c.Request.Method) {
			c.Next()
			return
		}

		var userID uint
		if v, ok := c.Get(CurrentUserKey); ok {
			if user, ok := v.(*models.User); ok && user != nil {
				userID = user.ID
			}
		}

		var bodyBytes []byte
		if c.Request.Body != nil && !isMultipart(c) {
			// Only the head is buffered; the handler still reads the full body.
			bodyBytes, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxAuditBody+1))
			c.Request.Body = readCloser{
				Reader: io.MultiReader(bytes.NewReader(bodyBytes), c.Request.Body),
				Closer: c.Request.Body,
			}
		}

		c.Next()

		if userID == 0 {
			return
		}

		path := c.Request.URL.Path
		action := c.Request.Method + " " + path
		if len(bodyBytes) > 0 && len(bodyBytes) <= maxAuditBody && !sensitivePath(path) && !carriesSecret(bodyBytes) {
			action += " " + string(bodyBytes)
		}

		encPath, err := util.EncryptString(encryptKey, path)
		if err != nil {
			logger.Log.Warn("audit encrypt failed", zap.Error(err))
			return
		}
		encAction, err := util.EncryptString(encryptKey, action)
		if err != nil {
			logger.Log.Warn("audit encrypt failed", zap.Error(err))
			return
		}

		entry := models.AuditLog{
			UserID:    &userID,
			PathEnc:   encPath,
			Method:    c.Request.Method,
			ActionEnc: encAction,
			Status:    c.Writer.Status(),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		if err := db.Create(&entry).Error; err != nil {
			logger.Log.Warn("audit insert failed", zap.Error(err), zap.String("method", entry.Method))
		}
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

type readCloser struct {
	io.Reader
	io.Closer
}

// sensitivePath marks endpoints whose bodies carry secrets.
func sensitivePath(path string) bool {
	switch path {
	case "/api/profile/password", "/api/auth/login", "/api/auth/register":
		return true
	}
	return strings.HasPrefix(path, "/api/admin/users/")
}

// carriesSecret reports whether a body mentions a password anywhere, nested
// fields included.
func carriesSecret(body []byte) bool {
	return bytes.Contains(bytes.ToLower(body), []byte("password"))
}
