package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phoneRegex   = regexp.MustCompile(`^\+?[0-9][0-9 \-]{5,19}$`)
	controlRegex = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// DateLayout and TimeLayout are the wire formats of appointment slots
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// ValidatePhone accepts digits with optional leading + and separators
func ValidatePhone(phone string) error {
	if !phoneRegex.MatchString(phone) {
		return fmt.Errorf("invalid phone number: %s", phone)
	}
	return nil
}

// ValidateDate checks a YYYY-MM-DD calendar date
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	return nil
}

// ValidateTime checks a 24h HH:MM time of day
func ValidateTime(t string) error {
	if len(t) != len(TimeLayout) {
		return fmt.Errorf("invalid time %q, expected HH:MM", t)
	}
	if _, err := time.Parse(TimeLayout, t); err != nil {
		return fmt.Errorf("invalid time %q, expected HH:MM", t)
	}
	return nil
}

// ValidateFee validates a consultation fee
func ValidateFee(fee float64) error {
	if fee < 0 {
		return fmt.Errorf("fee must not be negative: %.2f", fee)
	}
	if fee > 100000 {
		return fmt.Errorf("fee exceeds maximum limit: %.2f", fee)
	}
	return nil
}

// SanitizeString strips control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlRegex.ReplaceAllString(s, ""))
}
