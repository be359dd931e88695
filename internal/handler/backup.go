package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ltvesari/pt-tracker/internal/ledger"
	"github.com/ltvesari/pt-tracker/internal/logger"
	"github.com/ltvesari/pt-tracker/internal/models"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BackupHandler writes and restores encrypted snapshots of the ledger.
type BackupHandler struct {
	DB         *gorm.DB
	Ledger     *ledger.Service
	EncryptKey string
	BackupDir  string
}

func NewBackupHandler(db *gorm.DB, svc *ledger.Service, encryptKey, backupDir string) *BackupHandler {
	return &BackupHandler{
		DB:         db,
		Ledger:     svc,
		EncryptKey: encryptKey,
		BackupDir:  backupDir,
	}
}

func backupView(b *models.Backup) gin.H {
	return gin.H{
		"id":         b.ID,
		"file_name":  b.FileName,
		"size":       b.Size,
		"students":   b.Students,
		"logs":       b.Logs,
		"created_at": b.CreatedAt,
	}
}

// CreateBackup POST /api/backups
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	snap, err := h.Ledger.Snapshot(c.Request.Context())
	if err != nil {
		serverError(c, "snapshot failed", err)
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		serverError(c, "encode snapshot failed", err)
		return
	}
	enc, err := util.SealWithPassphrase(h.EncryptKey, raw)
	if err != nil {
		serverError(c, "encrypt snapshot failed", err)
		return
	}

	if err := os.MkdirAll(h.BackupDir, 0o755); err != nil {
		serverError(c, "create backup dir failed", err)
		return
	}

	fileName := fmt.Sprintf("backup-%s-%s.bin", snap.CreatedAt.Format("20060102-150405"), uuid.NewString())
	filePath := filepath.Join(h.BackupDir, fileName)
	if err := os.WriteFile(filePath, enc, 0o600); err != nil {
		serverError(c, "write backup failed", err)
		return
	}

	backup := models.Backup{
		UserID:   user.ID,
		FileName: fileName,
		FilePath: filePath,
		Size:     int64(len(enc)),
		Students: len(snap.Students),
		Logs:     len(snap.Logs),
	}
	if err := h.DB.Create(&backup).Error; err != nil {
		_ = os.Remove(filePath)
		serverError(c, "save backup record failed", err)
		return
	}

	logger.Log.Info("backup created",
		zap.Uint("backup_id", backup.ID),
		zap.Int("students", backup.Students),
		zap.Int("logs", backup.Logs),
	)
	util.Success(c, util.Response{"backup": backupView(&backup)})
}

// ListBackups GET /api/backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	var list []models.Backup
	if err := h.DB.Order("created_at DESC").Order("id DESC").Find(&list).Error; err != nil {
		serverError(c, "list backups failed", err)
		return
	}

	items := make([]gin.H, 0, len(list))
	for i := range list {
		items = append(items, backupView(&list[i]))
	}
	util.Success(c, util.Response{"items": items})
}

// findBackup loads the backup named by :id, or writes 404/500.
func (h *BackupHandler) findBackup(c *gin.Context) (*models.Backup, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	var backup models.Backup
	if err := h.DB.First(&backup, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "backup not found")
		} else {
			serverError(c, "lookup backup failed", err)
		}
		return nil, false
	}
	return &backup, true
}

// DownloadBackup GET /api/backups/:id/download
func (h *BackupHandler) DownloadBackup(c *gin.Context) {
	backup, ok := h.findBackup(c)
	if !ok {
		return
	}
	if _, err := os.Stat(backup.FilePath); err != nil {
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "backup file missing")
		return
	}
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", backup.FileName))
	c.File(backup.FilePath)
}

// DeleteBackup DELETE /api/backups/:id
func (h *BackupHandler) DeleteBackup(c *gin.Context) {
	backup, ok := h.findBackup(c)
	if !ok {
		return
	}

	// file first, then the record
	if err := os.Remove(backup.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		serverError(c, "remove backup file failed", err)
		return
	}
	if err := h.DB.Delete(backup).Error; err != nil {
		serverError(c, "delete backup record failed", err)
		return
	}
	util.Success(c, util.Response{"ok": true})
}

// RestoreBackup POST /api/backups/:id/restore replaces all students, log
// entries and measurements with the backup's content.
func (h *BackupHandler) RestoreBackup(c *gin.Context) {
	backup, ok := h.findBackup(c)
	if !ok {
		return
	}

	encData, err := os.ReadFile(backup.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "backup file missing")
			return
		}
		serverError(c, "read backup failed", err)
		return
	}

	raw, err := util.OpenWithPassphrase(h.EncryptKey, encData)
	if err != nil {
		badRequest(c, "backup cannot be decrypted with the current key")
		return
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		badRequest(c, "backup content is corrupt")
		return
	}

	if err := h.Ledger.Restore(c.Request.Context(), &snap); err != nil {
		ledgerError(c, err)
		return
	}

	logger.Log.Info("backup restored", zap.Uint("backup_id", backup.ID))
	util.Success(c, util.Response{
		"ok":           true,
		"students":     len(snap.Students),
		"logs":         len(snap.Logs),
		"measurements": len(snap.Measurements),
	})
}
