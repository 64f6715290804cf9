package httpserver

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
	// Report fields under their wire names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
	return v
}

// validateStruct runs every rule on s and returns all failures, not just the
// first.
func validateStruct(s any) []fieldError {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{{Msg: err.Error(), Path: ""}}
	}

	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Msg: messageFor(fe), Path: fieldPath(fe)})
	}
	return out
}

// fieldPath drops the struct name from the namespace: "signUpRequest.email"
// becomes "email", "createGroupRequest.user_id_list[1]" becomes
// "user_id_list[1]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func messageFor(fe validator.FieldError) string {
	field := fe.Field()
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return "email must be a valid email address"
	case "eqfield":
		return fmt.Sprintf("%s must match %s", field, jsonNameOf(fe.Param()))
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must contain at least %s items", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must contain at most %s items", field, fe.Param())
	case "required_without":
		return fmt.Sprintf("%s is required without %s", field, jsonNameOf(fe.Param()))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// jsonNameOf maps the Go field names used in cross-field tags back to their
// wire names.
func jsonNameOf(goField string) string {
	switch goField {
	case "Password":
		return "password"
	case "AutoLogin":
		return "auto_login"
	default:
		return strings.ToLower(goField)
	}
}
