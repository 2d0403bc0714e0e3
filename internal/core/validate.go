package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("uuid_required", func(fl validator.FieldLevel) bool {
		if id, ok := fl.Field().Interface().(uuid.UUID); ok {
			return id != uuid.Nil
		}
		return false
	})
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
}

// validateStruct runs struct-tag validation and reports the first failure
// as a ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := verrs[0]
	field := first.Field()
	switch first.Tag() {
	case "required", "uuid_required":
		return validationErrorf(field, "is required")
	case "max":
		return validationErrorf(field, "must be at most %s characters", first.Param())
	case "oneof":
		return validationErrorf(field, "must be one of %s", first.Param())
	}
	return validationErrorf(field, "failed on %q", first.Tag())
}

// ParseQuantity parses a decimal string, rejecting NaN, infinities and garbage.
func ParseQuantity(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, validationErrorf(field, "is required")
	}
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "inf", "infinity":
		return decimal.Zero, validationErrorf(field, "must be a finite number, got %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, validationErrorf(field, "must be a number, got %q", s)
	}
	return d, nil
}

func requirePositive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return validationErrorf(field, "must be positive, got %s", d.String())
	}
	return nil
}

func requireNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return validationErrorf(field, "cannot be negative, got %s", d.String())
	}
	return nil
}

// Quantities are stored as NUMERIC(18,4) and costs as NUMERIC(18,6). Values
// the columns would round or reject are refused here.
const (
	quantityPlaces = 4
	costPlaces     = 6
)

var (
	maxQuantity = decimal.New(1, 14)
	maxCost     = decimal.New(1, 12)
)

func requireStorable(field string, d decimal.Decimal, places int32, limit decimal.Decimal) error {
	if !d.Equal(d.Truncate(places)) {
		return validationErrorf(field, "allows at most %d decimal places, got %s", places, d.String())
	}
	if d.Abs().GreaterThanOrEqual(limit) {
		return validationErrorf(field, "must be less than %s in magnitude, got %s", limit.String(), d.String())
	}
	return nil
}

func requireQuantity(field string, d decimal.Decimal) error {
	return requireStorable(field, d, quantityPlaces, maxQuantity)
}

func requireCost(field string, d decimal.Decimal) error {
	return requireStorable(field, d, costPlaces, maxCost)
}

func describeKey(p *Product, l *Location) string {
	return fmt.Sprintf("%s at %s", p.SKU, l.Code)
}
