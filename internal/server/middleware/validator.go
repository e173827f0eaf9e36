package middleware

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/shopspring/decimal"
)

const maxVariantDimensions = 16

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	validate := validator.New()

	commonTags := []string{
		"json",
		"param",
		"query",
		"header",
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range commonTags {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return ""
	})

	// prices validate as numbers, e.g. `validate:"gte=0"`
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		d, ok := v.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})

	validate.RegisterValidation("variant", validateVariant)

	return &Validator{
		validate: validate,
	}
}

// validateVariant accepts a small map of named dimensions with scalar values.
func validateVariant(fl validator.FieldLevel) bool {
	var selection map[string]any
	switch v := fl.Field().Interface().(type) {
	case models.VariantSelection:
		selection = v
	case map[string]any:
		selection = v
	default:
		return false
	}
	if len(selection) > maxVariantDimensions {
		return false
	}
	for key, value := range selection {
		if strings.TrimSpace(key) == "" {
			return false
		}
		switch value.(type) {
		case nil, string, bool, float64, float32, int, int64, int32:
		default:
			return false
		}
	}
	return true
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
