package service

import (
	"errors"
	"strings"

	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/go-playground/validator/v10"
)

// newValidator returns the validator shared by the services. Field names in
// errors use the lower-cased struct field name.
func newValidator() *validator.Validate {
	v := validator.New()
	return v
}

// validationError converts validator output into a domain.ValidationError.
// Any other error is returned as an internal error.
func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Internal(err, op, "validate input")
	}
	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string)}
	for _, fe := range verrs {
		ve.Fields[strings.ToLower(fe.Field())] = describe(fe)
	}
	return ve
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}
