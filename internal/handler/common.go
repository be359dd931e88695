package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ltvesari/pt-tracker/internal/ledger"
	"github.com/ltvesari/pt-tracker/internal/logger"
	"github.com/ltvesari/pt-tracker/internal/middleware"
	"github.com/ltvesari/pt-tracker/internal/models"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// currentUser returns the user set by AuthMiddleware, or writes 401.
func currentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(middleware.CurrentUserKey)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not authenticated")
		return nil, false
	}
	user, ok := v.(*models.User)
	if !ok || user == nil {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not authenticated")
		return nil, false
	}
	return user, true
}

// parseID reads a positive integer path parameter, or writes 400.
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// ledgerError maps ledger sentinel errors onto the response envelope.
func ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		util.Error(c, http.StatusNotFound, util.CodeNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidArgument), errors.Is(err, ledger.ErrInvalidState):
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		util.Error(c, http.StatusConflict, util.CodeConflict, err.Error())
	default:
		serverError(c, "ledger operation failed", err)
	}
}

func serverError(c *gin.Context, msg string, err error) {
	logger.Log.Error(msg,
		zap.Error(err),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
	)
	util.Error(c, http.StatusInternalServerError, util.CodeServerErr, msg)
}

func badRequest(c *gin.Context, msg string) {
	util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, msg)
}
