package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/pulse-gateway/internal/gateway"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. Field names in messages are
// the JSON names.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateStruct validates v and returns an error wrapping
// gateway.ErrValidation that names the first failing field.
func validateStruct(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", gateway.ErrValidation, err)
	}

	fe := verrs[0]
	field := fe.Field()
	if ns := fe.Namespace(); strings.Contains(ns, ".") {
		_, field, _ = strings.Cut(ns, ".")
	}
	return fmt.Errorf("%w: %s", gateway.ErrValidation, fieldMessage(field, fe))
}

func fieldMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
