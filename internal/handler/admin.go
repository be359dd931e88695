package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ltvesari/pt-tracker/internal/models"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminHandler manages trainer accounts. Routes sit behind RequireAdmin.
type AdminHandler struct {
	DB         *gorm.DB
	BcryptCost int
}

func NewAdminHandler(db *gorm.DB, bcryptCost int) *AdminHandler {
	return &AdminHandler{DB: db, BcryptCost: bcryptCost}
}

// ListUsers GET /api/admin/users?skip=&limit=
func (h *AdminHandler) ListUsers(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if skip < 0 {
		skip = 0
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var users []models.User
	if err := h.DB.Order("id ASC").Offset(skip).Limit(limit).Find(&users).Error; err != nil {
		serverError(c, "list users failed", err)
		return
	}
	items := make([]gin.H, 0, len(users))
	for i := range users {
		items = append(items, userView(&users[i]))
	}
	util.Success(c, util.Response{"items": items})
}

type adminUpdateReq struct {
	FirstName *string `json:"first_name" binding:"omitempty,max=64"`
	LastName  *string `json:"last_name" binding:"omitempty,max=64"`
	Email     *string `json:"email" binding:"omitempty,email,max=255"`
	Password  *string `json:"password" binding:"omitempty,min=8,max=72"`
	IsAdmin   *bool   `json:"is_admin"`
}

// UpdateUser PUT /api/admin/users/:id
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	me, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req adminUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid user update: "+err.Error())
		return
	}

	var user models.User
	if err := h.DB.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "user not found")
		} else {
			serverError(c, "lookup user failed", err)
		}
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
		taken, err := takenBy(h.DB, "", email, user.ID)
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
	if req.IsAdmin != nil {
		if user.ID == me.ID && !*req.IsAdmin {
			badRequest(c, "cannot drop your own admin role")
			return
		}
		updates["is_admin"] = *req.IsAdmin
	}
	if req.Password != nil {
		hash, err := util.HashPassword(*req.Password, h.BcryptCost)
		if err != nil {
			serverError(c, "password hashing failed", err)
			return
		}
		updates["password_hash"] = hash
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				return err
			}
		}
		if req.Password != nil {
			// a reset password ends every session of that account
			return tx.Model(&models.Session{}).Where("user_id = ?", user.ID).Update("revoked", true).Error
		}
		return nil
	})
	if err != nil {
		serverError(c, "update user failed", err)
		return
	}
	if err := h.DB.First(&user, id).Error; err != nil {
		serverError(c, "reload user failed", err)
		return
	}
	util.Success(c, util.Response{"user": userView(&user)})
}

// DeleteUser DELETE /api/admin/users/:id
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	me, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if id == me.ID {
		badRequest(c, "cannot delete your own account")
		return
	}

	var deleted int64
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.User{}, id)
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		serverError(c, "delete user failed", err)
		return
	}
	if deleted == 0 {
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "user not found")
		return
	}
	util.Success(c, util.Response{"ok": true})
}
