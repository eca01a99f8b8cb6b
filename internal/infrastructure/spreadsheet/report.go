package spreadsheet

import (
	"fmt"
	"io"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const reportSheet = "Report"

var reportHeader = []interface{}{
	"Sequence", "Patient", "Doctor", "Hospital", "Date", "Time",
	"Status", "Appointment ID", "Error", "Attempts", "Processed At",
}

// Reporter writes the per-item outcome of a batch as xlsx
type Reporter struct {
	logger *zap.Logger
}

// NewReporter creates a new reporter
func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{logger: logger}
}

// WriteReport writes a summary block followed by one row per item
func (r *Reporter) WriteReport(w io.Writer, b *entity.BulkBooking) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), reportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	summary := [][]interface{}{
		{"Batch", b.BatchNumber},
		{"Name", b.BatchName},
		{"Status", b.Status},
		{"Total", b.TotalItems},
		{"Successful", b.SuccessfulItems},
		{"Failed", b.FailedItems},
	}
	row := 1
	for _, line := range summary {
		if err := r.setRow(f, row, line); err != nil {
			return err
		}
		row++
	}
	row++

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	if err := r.setRow(f, row, reportHeader); err != nil {
		return err
	}
	if err := f.SetRowStyle(reportSheet, row, row, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	row++

	for _, item := range b.Items {
		var appointmentID interface{}
		if item.AppointmentID != nil {
			appointmentID = *item.AppointmentID
		}
		var processedAt interface{}
		if item.ProcessedAt != nil {
			processedAt = item.ProcessedAt.UTC().Format("2006-01-02 15:04:05")
		}
		line := []interface{}{
			item.SequenceNumber, item.PatientName, item.DoctorID, item.HospitalID,
			item.AppointmentDate, item.AppointmentTime, item.Status, appointmentID,
			item.ErrorMessage, item.Attempts, processedAt,
		}
		if err := r.setRow(f, row, line); err != nil {
			return err
		}
		row++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	r.logger.Info("Batch report written",
		zap.Int64("batch_id", b.ID),
		zap.Int("items", len(b.Items)))
	return nil
}

func (r *Reporter) setRow(f *excelize.File, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}
