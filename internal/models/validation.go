package models

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	// stock holds the built-in rules the overrides below delegate to
	stock = validator.New()
)

// ConfigureValidator makes a validator read the binding tags used by the
// request models and report fields by their JSON names. The HTTP layer
// applies it to gin's engine so both boundaries report identical fields.
func ConfigureValidator(v *validator.Validate) {
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	// Emails are trimmed and lower-cased after validation, so surrounding
	// whitespace must not fail the rule
	err := v.RegisterValidation("email", func(fl validator.FieldLevel) bool {
		return stock.Var(strings.TrimSpace(fl.Field().String()), "email") == nil
	})
	if err != nil {
		panic(err)
	}
}

// Validate checks a request model against its binding tags.
func Validate(v interface{}) error {
	validateOnce.Do(func() {
		validate = validator.New()
		ConfigureValidator(validate)
	})
	return validate.Struct(v)
}

// FieldErrors flattens validator errors into a field -> rule map. It
// returns nil when err does not come from the validator.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = describeRule(fe)
	}
	return fields
}

// fieldPath drops the leading struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
