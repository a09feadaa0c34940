package voucher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// GenerateOptions describes one generation call.
// Either Validity or ExpiresAt must be set; ExpiresAt wins when both are.
type GenerateOptions struct {
	Count       int        `validate:"min=1"`
	Validity    Validity   `validate:"required_without=ExpiresAt,gte=0"`
	ExpiresAt   *time.Time `validate:"required_without=Validity"`
	SpeedLimit  SpeedLimit `validate:"-"`
	DeviceLimit int        `validate:"min=1,max=1000"`
	Batch       string     `validate:"max=128"`
}

// Validate checks field constraints and caps Count at maxCount.
func (o GenerateOptions) Validate(maxCount int) error {
	if err := validate.Struct(o); err != nil {
		return translateValidation(err)
	}
	if maxCount > 0 && o.Count > maxCount {
		return &ValidationError{Field: "count", Message: fmt.Sprintf("must be at most %d", maxCount)}
	}
	return nil
}

var jsonFieldNames = map[string]string{
	"Count":       "count",
	"Validity":    "validity",
	"ExpiresAt":   "expiration",
	"DeviceLimit": "deviceLimit",
	"Batch":       "batch",
}

func translateValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	fe := verrs[0]
	field, ok := jsonFieldNames[fe.Field()]
	if !ok {
		field = strings.ToLower(fe.Field())
	}

	var msg string
	switch fe.Tag() {
	case "min":
		msg = "must be at least " + fe.Param()
	case "max":
		msg = "must be at most " + fe.Param()
	case "required_without":
		msg = "validity or expiration is required"
	default:
		msg = "failed " + fe.Tag() + " check"
	}
	return &ValidationError{Field: field, Message: msg}
}
