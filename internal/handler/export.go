package handler

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/ltvesari/pt-tracker/internal/ledger"
	"github.com/ltvesari/pt-tracker/internal/logger"
	"github.com/ltvesari/pt-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type ExportHandler struct {
	Ledger *ledger.Service
}

func NewExportHandler(svc *ledger.Service) *ExportHandler {
	return &ExportHandler{Ledger: svc}
}

var exportHeaders = []string{"Date", "Student", "Action", "Count"}

// exportRow renders one history item. Deducts are "-n", adds "+n".
func exportRow(it ledger.HistoryItem) []string {
	action := "Lesson"
	sign := "-"
	if it.Type == models.LogAdd {
		action = "Package added"
		sign = "+"
	}
	return []string{
		it.Date.UTC().Format("2006-01-02 15:04"),
		it.StudentName,
		action,
		sign + strconv.Itoa(it.Count),
	}
}

func exportName(ext string) string {
	return fmt.Sprintf("lesson_history_%s.%s", time.Now().UTC().Format("20060102"), ext)
}

// ExportCSV GET /api/export/history.csv
func (h *ExportHandler) ExportCSV(c *gin.Context) {
	items, err := h.Ledger.FullHistory(c.Request.Context())
	if err != nil {
		ledgerError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", exportName("csv")))

	// UTF-8 BOM so spreadsheet apps pick the right encoding
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	writer := csv.NewWriter(c.Writer)
	writer.Write(exportHeaders)
	for _, it := range items {
		writer.Write(exportRow(it))
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		logger.Log.Warn("csv export aborted", zap.Error(err))
	}
}

// ExportXLSX GET /api/export/history.xlsx
func (h *ExportHandler) ExportXLSX(c *gin.Context) {
	items, err := h.Ledger.FullHistory(c.Request.Context())
	if err != nil {
		ledgerError(c, err)
		return
	}

	f, err := historyWorkbook(items)
	if err != nil {
		serverError(c, "build workbook failed", err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", exportName("xlsx")))

	if err := f.Write(c.Writer); err != nil {
		logger.Log.Warn("xlsx export aborted", zap.Error(err))
	}
}

func historyWorkbook(items []ledger.HistoryItem) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "History"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(sheet, "A1", &exportHeaders); err != nil {
		return nil, err
	}
	for i, it := range items {
		row := exportRow(it)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	f.SetColWidth(sheet, "A", "A", 18)
	f.SetColWidth(sheet, "B", "B", 28)
	f.SetColWidth(sheet, "C", "C", 16)
	f.SetColWidth(sheet, "D", "D", 8)
	return f, nil
}
