package handler

import (
	"github.com/ltvesari/pt-tracker/internal/ledger"
	"github.com/ltvesari/pt-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type MeasurementHandler struct {
	Ledger *ledger.Service
}

func NewMeasurementHandler(svc *ledger.Service) *MeasurementHandler {
	return &MeasurementHandler{Ledger: svc}
}

// Values accept JSON numbers, quoted decimals or null.
type measurementReq struct {
	StudentID          uint                `json:"student_id" binding:"required"`
	Date               string              `json:"date" binding:"omitempty,ymd"`
	Weight             decimal.NullDecimal `json:"weight"`
	MuscleRatio        decimal.NullDecimal `json:"muscle_ratio"`
	FatRatio           decimal.NullDecimal `json:"fat_ratio"`
	CircumferenceWaist decimal.NullDecimal `json:"circumference_waist"`
	CircumferenceHip   decimal.NullDecimal `json:"circumference_hip"`
}

// CreateMeasurement POST /api/measurements
func (h *MeasurementHandler) CreateMeasurement(c *gin.Context) {
	var req measurementReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid measurement: "+err.Error())
		return
	}

	in := ledger.MeasurementInput{
		StudentID:          req.StudentID,
		Weight:             req.Weight,
		MuscleRatio:        req.MuscleRatio,
		FatRatio:           req.FatRatio,
		CircumferenceWaist: req.CircumferenceWaist,
		CircumferenceHip:   req.CircumferenceHip,
	}
	if req.Date != "" {
		d, err := util.ParseDate(req.Date)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		in.Date = &d
	}

	m, err := h.Ledger.AddMeasurement(c.Request.Context(), in)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"measurement": m})
}

// ListMeasurements GET /api/measurements/:student_id
func (h *MeasurementHandler) ListMeasurements(c *gin.Context) {
	studentID, ok := parseID(c, "student_id")
	if !ok {
		return
	}
	list, err := h.Ledger.ListMeasurements(c.Request.Context(), studentID)
	if err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"items": list})
}

// DeleteMeasurement DELETE /api/measurements/:id
func (h *MeasurementHandler) DeleteMeasurement(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.Ledger.DeleteMeasurement(c.Request.Context(), id); err != nil {
		ledgerError(c, err)
		return
	}
	util.Success(c, util.Response{"ok": true})
}
