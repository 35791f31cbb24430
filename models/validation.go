package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError reports a single constraint violation.
type FieldError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value"`
}

// ValidationError carries the full list of constraint violations for a
// rejected entity.
type ValidationError struct {
	Errors []FieldError `json:"validation_errors"`
}

// Add records one violation.
func (e *ValidationError) Add(field, constraint string, value any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Constraint: constraint, Value: value})
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field, fe.Constraint))
	}
	return "validation failed: " + strings.Join(fields, ", ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report violations under the wire name, not the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateChatRequest normalizes the request in place (trimming the message)
// and checks every field constraint. Pure: no I/O, no store access.
func ValidateChatRequest(req *ChatRequest) error {
	raw := req.Message
	req.Message = strings.TrimSpace(req.Message)

	var verr ValidationError
	if err := validate.Struct(req); err != nil {
		var ferrs validator.ValidationErrors
		if !errors.As(err, &ferrs) {
			return err
		}
		for _, fe := range ferrs {
			value := fe.Value()
			if fe.Field() == "message" {
				value = raw
			}
			verr.Add(fe.Field(), fe.Tag(), value)
		}
	}
	if len(verr.Errors) > 0 {
		return &verr
	}
	return nil
}
