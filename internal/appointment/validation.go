package appointment

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/hospital-booking/internal/slots"
)

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

var fieldMessages = map[string]string{
	"required":      "is required",
	"email":         "must be a valid email address",
	"phone":         "must contain 10 to 15 digits",
	"calendar_date": "must be a date formatted as YYYY-MM-DD",
	"catalog_slot":  "must be one of the offered time slots",
	"max":           "is too long",
}

// newValidator builds a validator whose catalog_slot rule checks the given
// catalog and whose errors are keyed by JSON field name.
func newValidator(catalog slots.Catalog) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		n := len(digitsOnly(fl.Field().String()))
		return n >= minPhoneDigits && n <= maxPhoneDigits
	})
	_ = v.RegisterValidation("calendar_date", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("catalog_slot", func(fl validator.FieldLevel) bool {
		return catalog.Contains(fl.Field().String())
	})

	return v
}

func normalizeRequest(req BookingRequest) BookingRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Doctor = strings.TrimSpace(req.Doctor)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	return req
}

// validateRequest returns nil or a *ValidationError.
func validateRequest(v *validator.Validate, req BookingRequest) error {
	fields := make(map[string]string)

	if err := v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			msg, ok := fieldMessages[fe.Tag()]
			if !ok {
				msg = "is invalid"
			}
			if _, seen := fields[fe.Field()]; !seen {
				fields[fe.Field()] = msg
			}
		}
	}

	if req.Amount != nil && req.Amount.IsNegative() {
		fields["amount"] = "must not be negative"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
