package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"amd-platform/internal/calls"
)

var exportHeader = []string{"id", "createdAt", "phone", "strategy", "status", "rawResult"}

const (
	exportSheet   = "Calls"
	isoMillis     = "2006-01-02T15:04:05.000Z07:00"
	xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExportCalls serves GET /v1/calls/export?format=csv|xlsx with every stored call.
func (h Handlers) ExportCalls(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	if format != "csv" && format != "xlsx" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
		return
	}

	rows, err := calls.ListAll(c.Request.Context(), h.Store, calls.ListFilter{})
	if err != nil {
		writeError(c, err)
		return
	}

	if format == "xlsx" {
		b, err := CallsXLSX(rows)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=call-history.xlsx")
		c.Data(http.StatusOK, xlsxMediaType, b)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=call-history.csv")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(CallsCSV(rows)))
}

func exportRow(call calls.Call) []string {
	raw := "{}"
	if call.Result != nil {
		if b, err := json.Marshal(call.Result); err == nil {
			raw = string(b)
		}
	}
	return []string{
		call.ID,
		call.CreatedAt.UTC().Format(isoMillis),
		call.Phone,
		string(call.Strategy),
		string(call.Status),
		raw,
	}
}

// CallsCSV renders calls with every field quoted and embedded quotes doubled.
func CallsCSV(rows []calls.Call) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(exportHeader, ","))
	for _, call := range rows {
		fields := exportRow(call)
		for i, f := range fields {
			fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		}
		lines = append(lines, strings.Join(fields, ","))
	}
	return strings.Join(lines, "\n")
}

// CallsXLSX renders the same table as a workbook with a frozen header row.
func CallsXLSX(rows []calls.Call) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("export: rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("export: header style: %w", err)
	}

	header := make([]any, len(exportHeader))
	for i, v := range exportHeader {
		header[i] = v
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("export: header: %w", err)
	}
	if err := f.SetCellStyle(exportSheet, "A1", "F1", headerStyle); err != nil {
		return nil, fmt.Errorf("export: header style: %w", err)
	}

	for i, call := range rows {
		fields := exportRow(call)
		row := make([]any, len(fields))
		for j, v := range fields {
			row[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("export: cell name: %w", err)
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("export: row %d: %w", i+2, err)
		}
	}

	for col, width := range map[string]float64{"A": 38, "B": 26, "C": 18, "D": 18, "E": 12, "F": 80} {
		if err := f.SetColWidth(exportSheet, col, col, width); err != nil {
			return nil, fmt.Errorf("export: column width: %w", err)
		}
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("export: freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("export: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
