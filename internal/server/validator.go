package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	dserrors "github.com/systmms/kvrotate/internal/errors"
)

// requestParams are the certificates endpoint parameters. They are read from
// the query string and then from a JSON or form body; body values win.
type requestParams struct {
	Action           string      `query:"action" form:"action" json:"action" validate:"omitempty,oneof=list check rotate create"`
	CertificateName  string      `query:"certificateName" form:"certificateName" json:"certificateName" validate:"omitempty,max=127"`
	DaysBeforeExpiry looseString `query:"daysBeforeExpiry" form:"daysBeforeExpiry" json:"daysBeforeExpiry"`
}

// looseString accepts a JSON string or a bare JSON number.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(data)
	return nil
}

type echoValidator struct {
	validator *validator.Validate
}

func newValidator() *echoValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &echoValidator{validator: v}
}

// Validate reports the first failing field as a ValidationError.
func (v *echoValidator) Validate(i interface{}) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return dserrors.ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	var msg string
	switch fe.Tag() {
	case "oneof":
		msg = fmt.Sprintf("%q is not one of %s", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		msg = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return dserrors.ValidationError{Field: fe.Field(), Message: msg}
}
