package handler

import (
	"strconv"

	"github.com/ltvesari/pt-tracker/internal/ledger"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
)

// StudentHandler serves the roster and the lesson ledger endpoints.
type StudentHandler struct {
	Ledger *ledger.Service
}

func NewStudentHandler(svc *ledger.Service) *StudentHandler {
	return &StudentHandler{Ledger: svc}
}

type studentReq struct {
	FirstName    string  `json:"first_name" binding:"required,notblank,max=64"`
	LastName     string  `json:"last_name" binding:"required,notblank,max=64"`
	BirthDate    string  `json:"birth_date" binding:"omitempty,ymd"`
	PackageTotal int     `json:"package_total" binding:"min=0"`
	Note         *string `json:"note" binding:"omitempty,max=2000"`
	IsActive     *bool   `json:"is_active"`
}

func (r *studentReq) input() (ledger.StudentInput, error) {
	in := ledger.StudentInput{
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		PackageTotal: r.PackageTotal,
		Note:         r.Note,
		IsActive:     r.IsActive,
	}
	if r.BirthDate != "" {
		t, err := util.ParseDate(r.BirthDate)
		if err != nil {
			return in, err
		}
		in.BirthDate = &t
	}
	return in, nil
}

// CreateStudent POST /api/students
func (h *StudentHandler) CreateStudent(c *gin.Context) {
	var req studentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid student: "+err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	st, err := h.Ledger.CreateStudent(c.Request.Context(), in)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"student": st})
}

// ListStudents GET /api/students?active_only=true
func (h *StudentHandler) ListStudents(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active_only", "false"))

	rows, err := h.Ledger.ListStudents(c.Request.Context(), activeOnly)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"items": rows})
}

func (h *StudentHandler) GetStudent(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	st, err := h.Ledger.GetStudent(c.Request.Context(), id)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"student": st})
}

func (h *StudentHandler) UpdateStudent(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req studentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid student: "+err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	st, err := h.Ledger.UpdateStudent(c.Request.Context(), id, in)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"student": st})
}

func (h *StudentHandler) DeleteStudent(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.Ledger.DeleteStudent(c.Request.Context(), id); err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"ok": true})
}

// ---------- ledger ----------

// Deduct POST /api/students/:id/deduct
func (h *StudentHandler) Deduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	remaining, err := h.Ledger.Deduct(c.Request.Context(), id)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"ok": true, "remaining": remaining})
}

// Undo POST /api/students/:id/undo
func (h *StudentHandler) Undo(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	remaining, err := h.Ledger.Undo(c.Request.Context(), id)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"ok": true, "remaining": remaining})
}

type addPackageReq struct {
	Count *int `json:"count" binding:"required"`
}

// AddPackage POST /api/students/:id/add_package {count}
func (h *StudentHandler) AddPackage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req addPackageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "count is required")
		return
	}
	if *req.Count > util.MaxPackageCount {
		badRequest(c, "count too large")
		return
	}

	remaining, err := h.Ledger.AddPackage(c.Request.Context(), id, *req.Count)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"ok": true, "remaining": remaining})
}

// Balance GET /api/students/:id/balance
func (h *StudentHandler) Balance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	r, err := h.Ledger.Reconcile(c.Request.Context(), id)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{
		"stored":  r.Stored,
		"derived": r.Derived,
		"drift":   r.Drift,
	})
}

// RebuildBalance POST /api/students/:id/balance/rebuild
func (h *StudentHandler) RebuildBalance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	before, err := h.Ledger.Rebuild(c.Request.Context(), id)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{
		"stored":    before.Stored,
		"derived":   before.Derived,
		"drift":     before.Drift,
		"remaining": before.Derived,
	})
}

// Logs GET /api/students/:id/logs
func (h *StudentHandler) Logs(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	logs, err := h.Ledger.StudentLogs(c.Request.Context(), id)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"items": logs})
}

// ---------- reports ----------

// History GET /api/reports/history?limit=n
func (h *StudentHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	items, err := h.Ledger.History(c.Request.Context(), limit)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"items": items})
}

// DashboardStats GET /api/reports/dashboard-stats
func (h *StudentHandler) DashboardStats(c *gin.Context) {
	stats, err := h.Ledger.Dashboard(c.Request.Context())
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{
		"low_balance":     stats.LowBalance,
		"absent_students": stats.AbsentStudents,
		"monthly_chart":   stats.MonthlyChart,
		"generated_at":    stats.GeneratedAt,
	})
}
