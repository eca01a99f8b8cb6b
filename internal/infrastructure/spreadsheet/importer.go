// Package spreadsheet reads bulk-booking sheets and writes batch outcome reports.
package spreadsheet

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"github.com/garyjia/booking-orchestrator/pkg/utils"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Column headers understood by the importer. Matching ignores case and treats spaces as underscores.
const (
	ColPatientName     = "patient_name"
	ColPatientPhone    = "patient_phone"
	ColPatientEmail    = "patient_email"
	ColPatientDOB      = "patient_date_of_birth"
	ColPatientGender   = "patient_gender"
	ColDoctorID        = "doctor_id"
	ColHospitalID      = "hospital_id"
	ColAppointmentDate = "appointment_date"
	ColAppointmentTime = "appointment_time"
	ColConsultationFee = "consultation_fee"
	ColNotes           = "notes"
)

var requiredColumns = []string{ColPatientName, ColDoctorID, ColHospitalID, ColAppointmentDate, ColAppointmentTime}

// Importer turns the first sheet of a workbook into booking requests, one per row
type Importer struct {
	logger *zap.Logger
}

// NewImporter creates a new importer
func NewImporter(logger *zap.Logger) *Importer {
	return &Importer{logger: logger}
}

// ParseBookings reads r as xlsx. Blank rows are skipped; the header row is required.
func (im *Importer) ParseBookings(r io.Reader) ([]entity.BookingRequest, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errs.Validationf(errs.ErrInvalidBatchRequest, "unreadable workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errs.Validationf(errs.ErrInvalidBatchRequest, "workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, errs.Validationf(errs.ErrInvalidBatchRequest, "sheet %q is empty", sheets[0])
	}

	index := headerIndex(rows[0])
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, errs.Validationf(errs.ErrInvalidBatchRequest, "missing column %q", col)
		}
	}

	var bookings []entity.BookingRequest
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		b, err := parseRow(row, index)
		if err != nil {
			// i is zero-based below the header, sheet rows are one-based
			return nil, errs.Validationf(errs.ErrInvalidBatchRequest, "row %d: %v", i+2, err)
		}
		bookings = append(bookings, b)
	}

	im.logger.Info("Parsed booking sheet",
		zap.String("sheet", sheets[0]),
		zap.Int("bookings", len(bookings)))
	return bookings, nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.Join(strings.Fields(h), "_"))
		if key != "" {
			index[key] = i
		}
	}
	return index
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseRow(row []string, index map[string]int) (entity.BookingRequest, error) {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var b entity.BookingRequest
	var err error

	b.PatientName = cell(ColPatientName)
	b.PatientPhone = cell(ColPatientPhone)
	b.PatientEmail = cell(ColPatientEmail)
	b.PatientGender = cell(ColPatientGender)
	b.Notes = cell(ColNotes)

	if b.PatientDateOfBirth, err = dateCell(cell(ColPatientDOB)); err != nil {
		return b, fmt.Errorf("%s: %w", ColPatientDOB, err)
	}
	if b.DoctorID, err = idCell(cell(ColDoctorID)); err != nil {
		return b, fmt.Errorf("%s: %w", ColDoctorID, err)
	}
	if b.HospitalID, err = idCell(cell(ColHospitalID)); err != nil {
		return b, fmt.Errorf("%s: %w", ColHospitalID, err)
	}
	if b.AppointmentDate, err = dateCell(cell(ColAppointmentDate)); err != nil {
		return b, fmt.Errorf("%s: %w", ColAppointmentDate, err)
	}
	if b.AppointmentTime, err = timeCell(cell(ColAppointmentTime)); err != nil {
		return b, fmt.Errorf("%s: %w", ColAppointmentTime, err)
	}
	if fee := cell(ColConsultationFee); fee != "" {
		if b.ConsultationFee, err = strconv.ParseFloat(fee, 64); err != nil {
			return b, fmt.Errorf("%s: not a number", ColConsultationFee)
		}
	}
	return b, nil
}

func idCell(v string) (int64, error) {
	if v == "" {
		return 0, fmt.Errorf("required")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || f <= 0 {
		return 0, fmt.Errorf("not a positive integer")
	}
	return int64(f), nil
}

// dateCell accepts YYYY-MM-DD text or an Excel date serial
func dateCell(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if err := utils.ValidateDate(v); err == nil {
		return v, nil
	}
	serial, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return "", fmt.Errorf("expected %s", utils.DateLayout)
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return "", err
	}
	return t.Format(utils.DateLayout), nil
}

// timeCell accepts HH:MM text or an Excel time fraction
func timeCell(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if err := utils.ValidateTime(v); err == nil {
		return v, nil
	}
	frac, err := strconv.ParseFloat(v, 64)
	if err != nil || frac < 0 || frac >= 1 {
		return "", fmt.Errorf("expected %s", utils.TimeLayout)
	}
	minutes := int(math.Round(frac * 24 * 60))
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60), nil
}
