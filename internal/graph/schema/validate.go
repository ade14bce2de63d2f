package schema

import (
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mschirtzinger/graphsync/internal/errors"
)

var validate = newValidator()

// newValidator reports field errors under their JSON names so messages read
// "label is required" rather than "Label", and adds the "finite" tag for
// positions.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		switch f.Kind() {
		case reflect.Float32, reflect.Float64:
			return !math.IsNaN(f.Float()) && !math.IsInf(f.Float(), 0)
		}
		return true
	})
	return v
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.Wrap(err, "validation failed")
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return errors.Newf("%s is required", fe.Field())
	case "max":
		return errors.Newf("%s must be %s characters or less", fe.Field(), fe.Param())
	case "finite":
		return errors.Newf("%s must be a finite number", fe.Field())
	default:
		return errors.Newf("%s failed %q validation", fe.Field(), fe.Tag())
	}
}
