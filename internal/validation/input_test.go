package validation

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMpesaNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0712345678", want: "254712345678"},
		{in: "+254 712 345 678", want: "254712345678"},
		{in: "254112345678", want: "254112345678"},
		{in: "712-345-678", want: "254712345678"},
		{in: "0812345678", wantErr: true},
		{in: "12345", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMpesaNumber(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePayoutAccount(t *testing.T) {
	acc, err := NormalizePayoutAccount(PayoutAccount{Method: "mpesa", AccountNumber: "0712345678"})
	require.NoError(t, err)
	assert.Equal(t, "254712345678", acc.AccountNumber)
	assert.Equal(t, MpesaBankCode, acc.BankCode)

	acc, err = NormalizePayoutAccount(PayoutAccount{Method: "bank", AccountNumber: " 0123456789 ", BankCode: "01"})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", acc.AccountNumber)

	_, err = NormalizePayoutAccount(PayoutAccount{Method: "bank", AccountNumber: "01234abc", BankCode: "01"})
	assert.Error(t, err)

	_, err = NormalizePayoutAccount(PayoutAccount{Method: "bank", AccountNumber: "0123456789"})
	assert.Error(t, err)

	_, err = NormalizePayoutAccount(PayoutAccount{Method: "paypal", AccountNumber: "x"})
	assert.Error(t, err)
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("привет", false))
	assert.NoError(t, ValidateMessage("", true))
	assert.Error(t, ValidateMessage("   ", false))
	assert.Error(t, ValidateMessage(string(make([]rune, MaxMessageLength+1)), false))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "report.pdf", SanitizeFileName("../../etc/report.pdf"))
	assert.Equal(t, "a.txt", SanitizeFileName(`C:\tmp\a.txt`))
	assert.Equal(t, "file", SanitizeFileName(".."))
	assert.Equal(t, "ab.png", SanitizeFileName("a\x00b.png"))
}

func TestValidateGroupPassword(t *testing.T) {
	assert.Error(t, ValidateGroupPassword("abc"))
	assert.NoError(t, ValidateGroupPassword("abcd"))
	assert.Error(t, ValidateGroupPassword(string(make([]byte, 73))))
}

func TestRegister_CustomTags(t *testing.T) {
	v := validator.New()
	require.NoError(t, Register(v))

	type payout struct {
		Amount decimal.Decimal `validate:"kes_amount"`
		Raw    string          `validate:"kes_amount"`
		Method string          `validate:"withdraw_method"`
	}

	assert.NoError(t, v.Struct(payout{Amount: decimal.RequireFromString("1000"), Raw: "10.50", Method: "mpesa"}))
	assert.Error(t, v.Struct(payout{Amount: decimal.RequireFromString("10.555"), Raw: "1", Method: "bank"}))
	assert.Error(t, v.Struct(payout{Amount: decimal.RequireFromString("10"), Raw: "-1", Method: "bank"}))
	assert.Error(t, v.Struct(payout{Amount: decimal.RequireFromString("10"), Raw: "1", Method: "card"}))
}
