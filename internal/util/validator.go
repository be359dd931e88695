package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// MaxPackageCount caps a single package purchase.
const MaxPackageCount = 1000

// ValidateCount checks a lesson package size.
func ValidateCount(count int) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	if count > MaxPackageCount {
		return fmt.Errorf("count too large, got %d", count)
	}
	return nil
}

// ParseDate parses YYYY-MM-DD as a UTC calendar date.
func ParseDate(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	t, err := time.ParseInLocation(DateLayout, dateStr, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format: %w", err)
	}
	return t, nil
}

// ValidateDate checks YYYY-MM-DD.
func ValidateDate(dateStr string) error {
	_, err := ParseDate(dateStr)
	return err
}

// ValidatePastDate checks YYYY-MM-DD and rejects days after today.
func ValidatePastDate(dateStr string, now time.Time) error {
	t, err := ParseDate(dateStr)
	if err != nil {
		return err
	}
	today := now.UTC().Truncate(24 * time.Hour)
	if t.After(today) {
		return fmt.Errorf("date %s is in the future", dateStr)
	}
	return nil
}

// ValidateName checks a person's name part.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if len([]rune(name)) > 50 {
		return fmt.Errorf("name too long, max 50 characters")
	}
	return nil
}

// RegisterBindingValidations adds the custom tags used by request structs
// to gin's validator: "ymd" for dates and "notblank" for trimmed strings.
func RegisterBindingValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}
	return registerTags(v)
}

func registerTags(v *validator.Validate) error {
	if err := v.RegisterValidation("ymd", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		// empty is left to "required"
		return s == "" || ValidateDate(s) == nil
	}); err != nil {
		return err
	}
	return v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}
