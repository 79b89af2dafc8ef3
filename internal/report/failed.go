// Package report renders import queue state as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"pharmsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const FailedSheet = "Failed imports"

var failedHeaders = []string{
	"Task", "Backend", "Entity", "Remote ID", "Forced", "Priority", "Retries", "Last error", "Created", "Processed",
}

// WriteFailedTasks writes one row per failed task to w as an xlsx workbook.
// backendNames maps backend ids to display names; unknown ids print the id.
func WriteFailedTasks(w io.Writer, tasks []*models.ImportTask, backendNames map[int64]string) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(FailedSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	header, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range failedHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(FailedSheet, cell, h)
		_ = f.SetCellStyle(FailedSheet, cell, cell, header)
	}

	for i, t := range tasks {
		row := i + 2
		backend, ok := backendNames[t.BackendID]
		if !ok {
			backend = fmt.Sprintf("#%d", t.BackendID)
		}
		lastError := ""
		if t.LastError != nil {
			lastError = *t.LastError
		}
		processed := ""
		if t.ProcessedAt != nil {
			processed = t.ProcessedAt.UTC().Format(time.RFC3339)
		}

		values := []any{
			t.UUID, backend, string(t.Entity), t.RemoteID, t.Force, t.Priority, t.RetryCount, lastError,
			t.CreatedAt.UTC().Format(time.RFC3339), processed,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(FailedSheet, cell, v)
		}
	}

	_ = f.SetColWidth(FailedSheet, "A", "A", 38)
	_ = f.SetColWidth(FailedSheet, "B", "G", 14)
	_ = f.SetColWidth(FailedSheet, "H", "H", 60)
	_ = f.SetColWidth(FailedSheet, "I", "J", 22)
	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}
