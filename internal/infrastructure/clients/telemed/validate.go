package telemed

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Field names in errors follow the partner JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("consultation_status", func(fl validator.FieldLevel) bool {
		_, ok := consultationStatuses[strings.ToLower(strings.TrimSpace(fl.Field().String()))]
		return ok
	})
	return v
}

// validateStruct runs the struct tags and reports the first failure in
// partner vocabulary
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	return errors.New(validationMessage(verrs[0]))
}

func validationMessage(e validator.FieldError) string {
	// ConsultationDTO.patientId -> patientId
	field := e.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch e.Tag() {
	case "notblank", "required":
		return "missing " + field
	case "min":
		if e.Kind() == reflect.Slice {
			return "no " + field
		}
		return fmt.Sprintf("%s below %s", field, e.Param())
	case "gte", "lte", "max":
		return fmt.Sprintf("%s out of range", field)
	case "consultation_status":
		return fmt.Sprintf("unknown status %q", e.Value())
	}
	return fmt.Sprintf("%s failed %s", field, e.Tag())
}
