package helpers

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	referralCodeRegex = regexp.MustCompile(`^[A-Z0-9]{4,16}$`)
	walletRegex       = regexp.MustCompile(`^[A-Za-z0-9]{20,64}$`)
	dateRegex         = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// CustomValidator wraps go-playground validator with ledger rules
type CustomValidator struct {
	validate *validator.Validate
}

// NewCustomValidator creates a new custom validator
func NewCustomValidator() *CustomValidator {
	v := validator.New()

	v.RegisterValidation("money", validateMoney)
	v.RegisterValidation("referral_code", validateReferralCode)
	v.RegisterValidation("wallet_address", validateWalletAddress)
	v.RegisterValidation("iso_date", validateISODate)

	return &CustomValidator{validate: v}
}

// Validate validates a struct
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validate.Struct(i)
}

// validateMoney accepts a positive decimal string with at most 8 fraction digits
func validateMoney(fl validator.FieldLevel) bool {
	raw := strings.TrimSpace(fl.Field().String())
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return false
	}
	if !d.IsPositive() {
		return false
	}
	return d.Exponent() >= -8
}

func validateReferralCode(fl validator.FieldLevel) bool {
	return referralCodeRegex.MatchString(strings.ToUpper(fl.Field().String()))
}

func validateWalletAddress(fl validator.FieldLevel) bool {
	return walletRegex.MatchString(fl.Field().String())
}

func validateISODate(fl validator.FieldLevel) bool {
	return dateRegex.MatchString(fl.Field().String())
}

// FieldErrors flattens validator errors into field -> message
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fieldMessage(fe)
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "The " + strings.ToLower(fe.Field()) + " field is required"
	case "money":
		return "The " + strings.ToLower(fe.Field()) + " must be a positive amount"
	case "referral_code":
		return "Invalid referral code"
	case "wallet_address":
		return "Invalid wallet address"
	case "iso_date":
		return "The " + strings.ToLower(fe.Field()) + " must be formatted as YYYY-MM-DD"
	case "len":
		return "The " + strings.ToLower(fe.Field()) + " must be " + fe.Param() + " characters"
	case "oneof":
		return "The " + strings.ToLower(fe.Field()) + " must be one of: " + fe.Param()
	default:
		return "The " + strings.ToLower(fe.Field()) + " is invalid"
	}
}
