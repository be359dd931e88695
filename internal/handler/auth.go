package handler

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ltvesari/pt-tracker/internal/middleware"
	"github.com/ltvesari/pt-tracker/internal/models"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lock-out policy for repeated wrong passwords.
const (
	maxLoginFailures = 5
	lockoutDuration  = 10 * time.Minute
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.]{3,32}$`)

// AuthHandler handles register, login, logout and me.
type AuthHandler struct {
	DB         *gorm.DB
	JWTSecret  string
	Issuer     string
	TokenTTL   time.Duration
	BcryptCost int

	now func() time.Time
}

func NewAuthHandler(db *gorm.DB, jwtSecret, issuer string, ttlHours, bcryptCost int) *AuthHandler {
	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &AuthHandler{
		DB:         db,
		JWTSecret:  jwtSecret,
		Issuer:     issuer,
		TokenTTL:   time.Duration(ttlHours) * time.Hour,
		BcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// ---------- register ----------

type registerReq struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required,min=8,max=72"`
	FirstName string `json:"first_name" binding:"max=64"`
	LastName  string `json:"last_name" binding:"max=64"`
	Email     string `json:"email" binding:"required,email,max=255"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid registration: "+err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !usernameRe.MatchString(req.Username) {
		badRequest(c, "username must be 3-32 letters, digits, '_' or '.'")
		return
	}

	taken, err := takenBy(h.DB, req.Username, req.Email, 0)
	if err != nil {
		serverError(c, "user lookup failed", err)
		return
	}
	if taken != "" {
		util.Error(c, http.StatusConflict, util.CodeConflict, taken+" already registered")
		return
	}

	hash, err := util.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		serverError(c, "password hashing failed", err)
		return
	}

	user := models.User{
		Username:     req.Username,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        req.Email,
	}
	// the first account administers the others
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Count(&n).Error; err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if n == 0 {
			user.IsAdmin = true
			return tx.Model(&user).Update("is_admin", true).Error
		}
		return nil
	})
	if err != nil {
		serverError(c, "create user failed", err)
		return
	}

	token, err := h.issueToken(c, &user)
	if err != nil {
		serverError(c, "token generation failed", err)
		return
	}

	util.Success(c, util.Response{
		"access_token": token,
		"token_type":   "bearer",
		"user":         userView(&user),
	})
}

// takenBy returns "username" or "email" when an account other than exceptID
// already uses it. Both compare case-insensitively.
func takenBy(db *gorm.DB, username, email string, exceptID uint) (string, error) {
	var n int64
	if username != "" {
		if err := db.Model(&models.User{}).
			Where("LOWER(username) = LOWER(?) AND id <> ?", username, exceptID).
			Count(&n).Error; err != nil {
			return "", err
		}
		if n > 0 {
			return "username", nil
		}
	}
	if email != "" {
		if err := db.Model(&models.User{}).
			Where("LOWER(email) = LOWER(?) AND id <> ?", email, exceptID).
			Count(&n).Error; err != nil {
			return "", err
		}
		if n > 0 {
			return "email", nil
		}
	}
	return "", nil
}

// ---------- login ----------

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username and password are required")
		return
	}

	req.Username = strings.TrimSpace(req.Username)

	var user models.User
	if err := h.DB.Where("LOWER(username) = LOWER(?)", req.Username).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "invalid username or password")
		} else {
			serverError(c, "user lookup failed", err)
		}
		return
	}

	now := h.now()

	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "account locked, try again later")
		return
	}

	if !util.CheckPassword(req.Password, user.PasswordHash) {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= maxLoginFailures {
			lockUntil := now.Add(lockoutDuration)
			user.LockedUntil = &lockUntil
			user.FailedLoginAttempts = 0
		}
		_ = h.DB.Model(&user).Select("failed_login_attempts", "locked_until").Updates(&user).Error
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "invalid username or password")
		return
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginIP = c.ClientIP()
	user.LastLoginAt = &now
	if err := h.DB.Model(&user).
		Select("failed_login_attempts", "locked_until", "last_login_ip", "last_login_at").
		Updates(&user).Error; err != nil {
		serverError(c, "update user failed", err)
		return
	}

	token, err := h.issueToken(c, &user)
	if err != nil {
		serverError(c, "token generation failed", err)
		return
	}

	util.Success(c, util.Response{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// issueToken opens a session and signs a token whose jti is the session id.
func (h *AuthHandler) issueToken(c *gin.Context, user *models.User) (string, error) {
	session := models.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: h.now().Add(h.TokenTTL),
		IP:        c.ClientIP(),
	}
	if err := h.DB.Create(&session).Error; err != nil {
		return "", err
	}
	return util.GenerateToken(h.JWTSecret, h.Issuer, user.ID, user.Username, session.ID, h.TokenTTL)
}

// ---------- logout / me ----------

// Logout revokes the session behind the presented token.
func (h *AuthHandler) Logout(c *gin.Context) {
	v, ok := c.Get(middleware.CurrentSessionKey)
	session, _ := v.(*models.Session)
	if !ok || session == nil {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not authenticated")
		return
	}
	if err := h.DB.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("revoked", true).Error; err != nil {
		serverError(c, "logout failed", err)
		return
	}
	util.Success(c, util.Response{"ok": true})
}

// Me returns the current user (requires AuthMiddleware).
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	util.Success(c, util.Response{"user": userView(user)})
}

func userView(u *models.User) gin.H {
	return gin.H{
		"id":                    u.ID,
		"username":              u.Username,
		"first_name":            u.FirstName,
		"last_name":             u.LastName,
		"display_name":          u.DisplayName(),
		"email":                 u.Email,
		"receive_daily_backup":  u.ReceiveDailyBackup,
		"receive_weekly_backup": u.ReceiveWeeklyBackup,
		"is_admin":              u.IsAdmin,
		"created_at":            u.CreatedAt,
	}
}
