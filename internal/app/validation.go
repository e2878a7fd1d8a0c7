package app

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"invoice-recon/internal/core"
)

var alphanumUnderscore = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// newValidator reports fields by their json names and compares decimals as floats.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return strings.ToLower(f.Name[:1]) + f.Name[1:]
		case "":
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		d, ok := f.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		return d.InexactFloat64()
	}, decimal.Decimal{})
	_ = v.RegisterValidation("alphanum_underscore", func(fl validator.FieldLevel) bool {
		return alphanumUnderscore.MatchString(fl.Field().String())
	})
	return v
}

// FieldErrors maps a request field to the rule it failed.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe)] = fe.Tag()
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

// check validates req and converts failures into an InvalidRequest error that still
// wraps the validator's errors.
func (s *appService) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	fields := FieldErrors(err)
	if fields == nil {
		return core.Errorf(core.KindInvalidRequest, "invalid request: %w", err)
	}
	parts := make([]string, 0, len(fields))
	for f, tag := range fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f, tag))
	}
	sort.Strings(parts)
	return &core.Error{
		Kind:    core.KindInvalidRequest,
		Message: "invalid request: " + strings.Join(parts, ", "),
		Err:     err,
	}
}
