package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ltvesari/pt-tracker/internal/models"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// LogHandler lists the audit log.
type LogHandler struct {
	DB         *gorm.DB
	EncryptKey string
}

func NewLogHandler(db *gorm.DB, encryptKey string) *LogHandler {
	return &LogHandler{
		DB:         db,
		EncryptKey: encryptKey,
	}
}

type logResp struct {
	ID        uint      `json:"id"`
	Action    string    `json:"action"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	Status    int       `json:"status"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// ListLogs GET /api/logs?page=&page_size=&start=&end=&method=&q=
//
// Path and action are encrypted at rest, so the keyword filter runs on the
// decrypted rows rather than in SQL.
func (h *LogHandler) ListLogs(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	base := h.DB.Model(&models.AuditLog{}).Where("user_id = ?", user.ID)

	if s := c.Query("start"); s != "" {
		start, err := util.ParseDate(s)
		if err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid start date")
			return
		}
		base = base.Where("created_at >= ?", start)
	}
	if s := c.Query("end"); s != "" {
		end, err := util.ParseDate(s)
		if err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid end date")
			return
		}
		base = base.Where("created_at < ?", end.Add(24*time.Hour))
	}
	if m := strings.ToUpper(strings.TrimSpace(c.Query("method"))); m != "" {
		base = base.Where("method = ?", m)
	}

	q := strings.ToLower(strings.TrimSpace(c.Query("q")))
	if q != "" {
		h.searchLogs(c, base, q, page, size)
		return
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		serverError(c, "count logs failed", err)
		return
	}

	var logs []models.AuditLog
	if err := base.
		Order("created_at DESC").
		Order("id DESC").
		Limit(size).
		Offset(offset).
		Find(&logs).Error; err != nil {
		serverError(c, "list logs failed", err)
		return
	}

	items := make([]logResp, 0, len(logs))
	for i := range logs {
		items = append(items, h.decrypt(&logs[i]))
	}

	util.Success(c, util.Response{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

// searchLogs decrypts every row matching the SQL filters, keeps those whose
// action contains q and pages over the matches.
func (h *LogHandler) searchLogs(c *gin.Context, base *gorm.DB, q string, page, size int) {
	var logs []models.AuditLog
	if err := base.Order("created_at DESC").Order("id DESC").Find(&logs).Error; err != nil {
		serverError(c, "list logs failed", err)
		return
	}

	matches := make([]logResp, 0)
	for i := range logs {
		item := h.decrypt(&logs[i])
		if strings.Contains(strings.ToLower(item.Action), q) {
			matches = append(matches, item)
		}
	}

	start := (page - 1) * size
	if start > len(matches) {
		start = len(matches)
	}
	end := start + size
	if end > len(matches) {
		end = len(matches)
	}

	util.Success(c, util.Response{
		"items": matches[start:end],
		"total": len(matches),
		"page":  page,
		"size":  size,
	})
}

func (h *LogHandler) decrypt(l *models.AuditLog) logResp {
	return logResp{
		ID:        l.ID,
		Path:      util.DecryptString(h.EncryptKey, l.PathEnc),
		Action:    util.DecryptString(h.EncryptKey, l.ActionEnc),
		Method:    l.Method,
		Status:    l.Status,
		IP:        l.IP,
		UserAgent: l.UserAgent,
		CreatedAt: l.CreatedAt,
	}
}
