package validation

import (
	"fmt"
	"reflect"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/neurolancer/backend/internal/domain/valueobject"
)

// RegisterBindings добавляет теги kes_amount и withdraw_method в валидатор gin.
func RegisterBindings() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("validation: неожиданный движок валидации %T", binding.Validator.Engine())
	}
	return Register(v)
}

// Register регистрирует собственные теги в переданном валидаторе.
func Register(v *validator.Validate) error {
	v.RegisterCustomTypeFunc(decimalAsString, decimal.Decimal{})
	if err := v.RegisterValidation("kes_amount", kesAmount); err != nil {
		return fmt.Errorf("validation: register kes_amount %w", err)
	}
	if err := v.RegisterValidation("withdraw_method", withdrawMethod); err != nil {
		return fmt.Errorf("validation: register withdraw_method %w", err)
	}
	return nil
}

// decimalAsString отдаёт валидатору decimal.Decimal как строку.
func decimalAsString(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.String()
	}
	return nil
}

// kesAmount принимает decimal.Decimal или строку: положительная сумма, не больше двух знаков.
func kesAmount(fl validator.FieldLevel) bool {
	var amount decimal.Decimal
	switch val := fl.Field().Interface().(type) {
	case decimal.Decimal:
		amount = val
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return false
		}
		amount = d
	default:
		return false
	}
	return valueobject.ValidateKESAmount(amount) == nil
}

func withdrawMethod(fl validator.FieldLevel) bool {
	return ValidateWithdrawMethod(fl.Field().String()) == nil
}
