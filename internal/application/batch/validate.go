package batch

import (
	"fmt"
	"strings"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"github.com/garyjia/booking-orchestrator/pkg/utils"
)

func validateSubmit(req *SubmitRequest, maxItems int) error {
	req.BatchName = utils.SanitizeString(req.BatchName)

	switch {
	case req.CustomerID <= 0:
		return errs.Validationf(errs.ErrInvalidBatchRequest, "customer id is required")
	case len(req.Items) == 0:
		return errs.Validationf(errs.ErrInvalidBatchRequest, "at least one item is required")
	case len(req.Items) > maxItems:
		return errs.Validationf(errs.ErrInvalidBatchRequest, "%d items exceeds the limit of %d", len(req.Items), maxItems)
	}

	for i := range req.Items {
		if err := normalizeBooking(&req.Items[i]); err != nil {
			return errs.Validationf(errs.ErrInvalidBatchRequest, "item %d: %v", i+1, err)
		}
	}
	return nil
}

// normalizeBooking trims the request in place and checks every field
func normalizeBooking(b *entity.BookingRequest) error {
	b.PatientName = utils.SanitizeString(b.PatientName)
	b.PatientPhone = utils.SanitizeString(b.PatientPhone)
	b.PatientEmail = utils.SanitizeString(b.PatientEmail)
	b.PatientDateOfBirth = utils.SanitizeString(b.PatientDateOfBirth)
	b.PatientGender = strings.ToUpper(utils.SanitizeString(b.PatientGender))
	b.AppointmentDate = utils.SanitizeString(b.AppointmentDate)
	b.AppointmentTime = utils.SanitizeString(b.AppointmentTime)
	b.Notes = utils.SanitizeString(b.Notes)

	if b.PatientName == "" {
		return fmt.Errorf("patient name is required")
	}
	if b.PatientPhone != "" {
		if err := utils.ValidatePhone(b.PatientPhone); err != nil {
			return err
		}
	}
	if b.PatientEmail != "" {
		if err := utils.ValidateEmail(b.PatientEmail); err != nil {
			return err
		}
	}
	if b.PatientDateOfBirth != "" {
		if err := utils.ValidateDate(b.PatientDateOfBirth); err != nil {
			return fmt.Errorf("date of birth: %w", err)
		}
	}
	switch b.PatientGender {
	case "", "MALE", "FEMALE", "OTHER":
	default:
		return fmt.Errorf("unknown gender %q", b.PatientGender)
	}
	if b.DoctorID <= 0 {
		return fmt.Errorf("doctor id is required")
	}
	if b.HospitalID <= 0 {
		return fmt.Errorf("hospital id is required")
	}
	if err := utils.ValidateDate(b.AppointmentDate); err != nil {
		return err
	}
	if err := utils.ValidateTime(b.AppointmentTime); err != nil {
		return err
	}
	return utils.ValidateFee(b.ConsultationFee)
}
