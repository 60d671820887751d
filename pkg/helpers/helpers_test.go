package helpers

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"0.6", "$0.60"},
		{"999.999", "$1,000.00"},
		{"1234567.5", "$1,234,567.50"},
		{"-20", "-$20.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMoney(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestPercent(t *testing.T) {
	got := Percent(decimal.NewFromInt(1000), decimal.NewFromInt(1))
	assert.True(t, got.Equal(decimal.NewFromInt(10)))

	got = Percent(decimal.NewFromInt(10), decimal.NewFromInt(6))
	assert.True(t, got.Equal(decimal.RequireFromString("0.6")))

	got = Percent(decimal.RequireFromString("0.00000003"), decimal.RequireFromString("0.5"))
	assert.True(t, got.IsZero(), "sub-scale amounts round away")
}

func TestCustomValidator(t *testing.T) {
	type request struct {
		Amount string `validate:"required,money"`
		Code   string `validate:"omitempty,referral_code"`
		Date   string `validate:"omitempty,iso_date"`
	}

	v := NewCustomValidator()

	require.NoError(t, v.Validate(request{Amount: "100.50", Code: "COMPANY", Date: "2024-03-01"}))

	err := v.Validate(request{Amount: "-1"})
	require.Error(t, err)
	assert.Contains(t, FieldErrors(err), "amount")

	err = v.Validate(request{Amount: "1.123456789"})
	require.Error(t, err, "more than 8 fraction digits")

	err = v.Validate(request{Amount: "10", Code: "no"})
	require.Error(t, err)
	assert.Equal(t, "Invalid referral code", FieldErrors(err)["code"])
}

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator()

	code := g.GenerateNumericCode(6)
	assert.Len(t, code, 6)
	for _, c := range code {
		assert.True(t, c >= '0' && c <= '9')
	}

	assert.Len(t, g.GenerateReferralCode(), 8)
	assert.Regexp(t, `^WD-\d{8}-[A-Z0-9]{6}$`, g.GenerateReference("WD"))
	assert.NotEqual(t, g.GenerateUUID(), g.GenerateUUID())
}
