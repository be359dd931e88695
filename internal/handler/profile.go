package handler

import (
	"net/http"
	"strings"

	"github.com/ltvesari/pt-tracker/internal/middleware"
	"github.com/ltvesari/pt-tracker/internal/models"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UpdateSettingsReq carries profile fields. Nil fields are left unchanged.
type UpdateSettingsReq struct {
	FirstName           *string `json:"first_name" binding:"omitempty,max=64"`
	LastName            *string `json:"last_name" binding:"omitempty,max=64"`
	Email               *string `json:"email" binding:"omitempty,email,max=255"`
	ReceiveDailyBackup  *bool   `json:"receive_daily_backup"`
	ReceiveWeeklyBackup *bool   `json:"receive_weekly_backup"`
}

type ChangePasswordReq struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=72"`
}

// UpdateSettings PUT /api/profile/settings
func UpdateSettings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var req UpdateSettingsReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid settings: "+err.Error())
			return
		}

		updates := map[string]interface{}{}
		if req.FirstName != nil {
			updates["first_name"] = strings.TrimSpace(*req.FirstName)
		}
		if req.LastName != nil {
			updates["last_name"] = strings.TrimSpace(*req.LastName)
		}
		if req.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*req.Email))
			taken, err := takenBy(db, "", email, user.ID)
			if err != nil {
				serverError(c, "user lookup failed", err)
				return
			}
			if taken != "" {
				util.Error(c, http.StatusConflict, util.CodeConflict, "email already registered")
				return
			}
			updates["email"] = email
		}
		if req.ReceiveDailyBackup != nil {
			updates["receive_daily_backup"] = *req.ReceiveDailyBackup
		}
		if req.ReceiveWeeklyBackup != nil {
			updates["receive_weekly_backup"] = *req.ReceiveWeeklyBackup
		}

		if len(updates) > 0 {
			if err := db.Model(user).Updates(updates).Error; err != nil {
				serverError(c, "update failed", err)
				return
			}
		}
		if err := db.First(user, user.ID).Error; err != nil {
			serverError(c, "reload user failed", err)
			return
		}

		util.Success(c, util.Response{"user": userView(user)})
	}
}

// ChangePassword POST /api/profile/password. Other sessions are revoked;
// the current one stays valid.
func ChangePassword(db *gorm.DB, bcryptCost int) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var req ChangePasswordReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid password change: "+err.Error())
			return
		}

		if !util.CheckPassword(req.OldPassword, user.PasswordHash) {
			badRequest(c, "old password is incorrect")
			return
		}

		hash, err := util.HashPassword(req.NewPassword, bcryptCost)
		if err != nil {
			serverError(c, "password hashing failed", err)
			return
		}

		var keep string
		if v, ok := c.Get(middleware.CurrentSessionKey); ok {
			if s, ok := v.(*models.Session); ok && s != nil {
				keep = s.ID
			}
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(user).Update("password_hash", hash).Error; err != nil {
				return err
			}
			return tx.Model(&models.Session{}).
				Where("user_id = ? AND id <> ?", user.ID, keep).
				Update("revoked", true).Error
		})
		if err != nil {
			serverError(c, "update password failed", err)
			return
		}

		util.Success(c, util.Response{"ok": true})
	}
}
