package router

import (
	"net/http"

	"github.com/ltvesari/pt-tracker/internal/config"
	"github.com/ltvesari/pt-tracker/internal/handler"
	"github.com/ltvesari/pt-tracker/internal/ledger"
	"github.com/ltvesari/pt-tracker/internal/middleware"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NewLedgerService builds the ledger service from configuration.
func NewLedgerService(cfg *config.Config, db *gorm.DB) *ledger.Service {
	return ledger.New(db, ledger.Options{
		LowBalanceThreshold: cfg.Ledger.LowBalanceThreshold,
		AbsenceDays:         cfg.Ledger.AbsenceDays,
		MonthlyBuckets:      cfg.Ledger.MonthlyBuckets,
		HistoryLimit:        cfg.Ledger.HistoryLimit,
	})
}

// SetupRouter configures the Gin engine and the JSON API.
func SetupRouter(cfg *config.Config, db *gorm.DB) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(), middleware.Recovery())

	health := func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			util.Error(c, http.StatusServiceUnavailable, util.CodeServerErr, "database unavailable")
			return
		}
		util.Success(c, util.Response{"status": "ok"})
	}
	r.GET("/health", health)
	r.GET("/", func(c *gin.Context) {
		util.Success(c, util.Response{"service": "pt-tracker", "status": "running"})
	})

	svc := NewLedgerService(cfg, db)
	jwtSecret := cfg.JWT.Secret
	encKey := cfg.Security.EncryptionKey

	api := r.Group("/api")

	// ====== public ======
	authHandler := handler.NewAuthHandler(db, jwtSecret, cfg.JWT.Issuer, cfg.JWT.ExpireHours, cfg.Security.BcryptCost)
	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.AuthPerMinute, cfg.RateLimit.AuthBurst)
	public := api.Group("/auth", middleware.RateLimit(limiter))
	public.POST("/register", authHandler.Register)
	public.POST("/login", authHandler.Login)

	// ====== authenticated ======
	protected := api.Group("")
	protected.Use(
		middleware.AuthMiddleware(jwtSecret, db),
		middleware.AuditMiddleware(db, encKey),
	)

	protected.POST("/auth/logout", authHandler.Logout)
	protected.GET("/auth/me", authHandler.Me)

	students := handler.NewStudentHandler(svc)
	protected.POST("/students", students.CreateStudent)
	protected.GET("/students", students.ListStudents)
	protected.GET("/students/:id", students.GetStudent)
	protected.PUT("/students/:id", students.UpdateStudent)
	protected.DELETE("/students/:id", students.DeleteStudent)
	protected.POST("/students/:id/deduct", students.Deduct)
	protected.POST("/students/:id/undo", students.Undo)
	protected.POST("/students/:id/add_package", students.AddPackage)
	protected.GET("/students/:id/balance", students.Balance)
	protected.POST("/students/:id/balance/rebuild", students.RebuildBalance)
	protected.GET("/students/:id/logs", students.Logs)

	protected.GET("/reports/history", students.History)
	protected.GET("/reports/dashboard-stats", students.DashboardStats)

	measurements := handler.NewMeasurementHandler(svc)
	protected.POST("/measurements", measurements.CreateMeasurement)
	protected.GET("/measurements/:student_id", measurements.ListMeasurements)
	protected.DELETE("/measurements/:id", measurements.DeleteMeasurement)

	protected.PUT("/profile/settings", handler.UpdateSettings(db))
	protected.POST("/profile/password", handler.ChangePassword(db, cfg.Security.BcryptCost))

	exports := handler.NewExportHandler(svc)
	protected.GET("/export/history.csv", exports.ExportCSV)
	protected.GET("/export/history.xlsx", exports.ExportXLSX)

	backups := handler.NewBackupHandler(db, svc, encKey, cfg.Backup.Dir)
	protected.POST("/backups", backups.CreateBackup)
	protected.GET("/backups", backups.ListBackups)
	protected.GET("/backups/:id/download", backups.DownloadBackup)
	protected.POST("/backups/:id/restore", backups.RestoreBackup)
	protected.DELETE("/backups/:id", backups.DeleteBackup)

	logs := handler.NewLogHandler(db, encKey)
	protected.GET("/logs", logs.ListLogs)

	admins := handler.NewAdminHandler(db, cfg.Security.BcryptCost)
	admin := protected.Group("/admin", middleware.RequireAdmin())
	admin.GET("/users", admins.ListUsers)
	admin.PUT("/users/:id", admins.UpdateUser)
	admin.DELETE("/users/:id", admins.DeleteUser)

	return r
}
