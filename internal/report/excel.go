// Package report renders an approval audit workbook from a persisted
// snapshot. It is operational tooling; the engine itself never reads
// these files.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/models"
	"github.com/garyjia/approval-engine/internal/persistence"
)

const (
	sheetChains    = "Chains"
	sheetRequests  = "Requests"
	sheetApprovals = "Approvals"
)

// Writer generates approval audit workbooks
type Writer struct {
	logger *zap.Logger
}

// NewWriter creates a new report writer
func NewWriter(logger *zap.Logger) *Writer {
	return &Writer{logger: logger}
}

// Write renders the snapshot to an xlsx workbook at outputPath.
func (w *Writer) Write(snap *persistence.Snapshot, outputPath string) error {
	w.logger.Info("Writing approval report",
		zap.Int("chains", len(snap.Chains)),
		zap.Int("requests", len(snap.Requests)),
		zap.String("output", outputPath))

	f := excelize.NewFile()
	defer f.Close()

	if err := w.fillChains(f, snap.Chains); err != nil {
		return err
	}
	if err := w.fillRequests(f, snap.Requests); err != nil {
		return err
	}
	if err := w.fillApprovals(f, snap.Requests); err != nil {
		return err
	}

	// The default sheet created by NewFile is replaced by our own
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	w.logger.Info("Approval report written", zap.String("output", outputPath))
	return nil
}

func (w *Writer) fillChains(f *excelize.File, chains []*models.ApprovalChain) error {
	if _, err := f.NewSheet(sheetChains); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheetChains, err)
	}

	headers := []string{"ID", "Name", "Description", "Levels", "Created At", "Updated At"}
	if err := w.writeRow(f, sheetChains, 1, headerRow(headers)); err != nil {
		return err
	}

	for i, chain := range chains {
		row := []interface{}{
			chain.ID,
			chain.Name,
			chain.Description,
			len(chain.Levels),
			chain.CreatedAt.Format(time.RFC3339),
			chain.UpdatedAt.Format(time.RFC3339),
		}
		if err := w.writeRow(f, sheetChains, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) fillRequests(f *excelize.File, requests []*models.ApprovalRequest) error {
	if _, err := f.NewSheet(sheetRequests); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheetRequests, err)
	}

	headers := []string{
		"ID", "Chain", "Resource Type", "Resource ID", "Status",
		"Current Level", "Requested By", "Deadline", "Escalations", "Created At", "Completed At",
	}
	if err := w.writeRow(f, sheetRequests, 1, headerRow(headers)); err != nil {
		return err
	}

	for i, req := range requests {
		deadline := ""
		if req.Deadline != nil {
			deadline = req.Deadline.Format(time.RFC3339)
		}
		completed := ""
		if req.CompletedAt != nil {
			completed = req.CompletedAt.Format(time.RFC3339)
		}
		row := []interface{}{
			req.ID,
			req.ChainID,
			req.ResourceType,
			req.ResourceID,
			req.Status.String(),
			req.CurrentLevel,
			req.RequestedBy,
			deadline,
			len(req.EscalationHistory),
			req.CreatedAt.Format(time.RFC3339),
			completed,
		}
		if err := w.writeRow(f, sheetRequests, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) fillApprovals(f *excelize.File, requests []*models.ApprovalRequest) error {
	if _, err := f.NewSheet(sheetApprovals); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheetApprovals, err)
	}

	headers := []string{"Request ID", "User", "Decision", "Level", "Comment", "Timestamp"}
	if err := w.writeRow(f, sheetApprovals, 1, headerRow(headers)); err != nil {
		return err
	}

	rowNum := 2
	for _, req := range requests {
		for _, entry := range req.Approvals {
			row := []interface{}{
				req.ID,
				entry.UserID,
				string(entry.Decision),
				entry.LevelOrder,
				entry.Comment,
				entry.Timestamp.Format(time.RFC3339),
			}
			if err := w.writeRow(f, sheetApprovals, rowNum, row); err != nil {
				return err
			}
			rowNum++
		}
	}
	return nil
}

func (w *Writer) writeRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("failed to compute cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d on %s: %w", rowNum, sheet, err)
	}
	return nil
}

func headerRow(headers []string) []interface{} {
	out := make([]interface{}, len(headers))
	for i, h := range headers {
		out[i] = h
	}
	return out
}
