package valueobject

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/neurolancer/backend/internal/pkg/apperror"
)

// Currency обозначает валюту суммы.
type Currency string

const (
	// CurrencyKES валюта расчётов со шлюзом.
	CurrencyKES Currency = "KES"
	// CurrencyUSD валюта внутренних балансов и заработка.
	CurrencyUSD Currency = "USD"
)

const (
	kesScale = 2
	usdScale = 4
)

var (
	hundred = decimal.NewFromInt(100)

	DefaultUSDPerKES        = decimal.RequireFromString("0.0077")
	DefaultKESPerUSD        = decimal.RequireFromString("130.0")
	DefaultClientFeePct     = decimal.RequireFromString("2.5")
	DefaultFreelancerFeePct = decimal.RequireFromString("5")
	DefaultProcessingFeeKES = decimal.RequireFromString("50")
)

// FeeSchedule хранит фиксированные курсы и комиссии платформы.
type FeeSchedule struct {
	USDPerKES         decimal.Decimal
	KESPerUSD         decimal.Decimal
	ClientFeeRate     decimal.Decimal
	FreelancerFeeRate decimal.Decimal
	ProcessingFeeKES  decimal.Decimal
}

// NewFeeSchedule собирает расписание комиссий; проценты передаются как 2.5, а не 0.025.
func NewFeeSchedule(usdPerKES, kesPerUSD, clientFeePct, freelancerFeePct, processingFeeKES decimal.Decimal) (FeeSchedule, error) {
	if !usdPerKES.IsPositive() || !kesPerUSD.IsPositive() {
		return FeeSchedule{}, apperror.New(apperror.ErrCodeValidation, "курс конвертации должен быть положительным")
	}
	if clientFeePct.IsNegative() || freelancerFeePct.IsNegative() || processingFeeKES.IsNegative() {
		return FeeSchedule{}, apperror.New(apperror.ErrCodeValidation, "комиссии не могут быть отрицательными")
	}
	if freelancerFeePct.GreaterThanOrEqual(hundred) {
		return FeeSchedule{}, apperror.New(apperror.ErrCodeValidation, "комиссия исполнителя должна быть меньше 100%")
	}

	return FeeSchedule{
		USDPerKES:         usdPerKES,
		KESPerUSD:         kesPerUSD,
		ClientFeeRate:     clientFeePct.Div(hundred),
		FreelancerFeeRate: freelancerFeePct.Div(hundred),
		ProcessingFeeKES:  processingFeeKES,
	}, nil
}

// DefaultFeeSchedule возвращает стандартные значения платформы.
func DefaultFeeSchedule() FeeSchedule {
	fees, _ := NewFeeSchedule(DefaultUSDPerKES, DefaultKESPerUSD, DefaultClientFeePct, DefaultFreelancerFeePct, DefaultProcessingFeeKES)
	return fees
}

// ChargeBreakdown описывает сумму списания с клиента.
type ChargeBreakdown struct {
	Base          decimal.Decimal `json:"base"`
	ClientFee     decimal.Decimal `json:"client_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	Total         decimal.Decimal `json:"total"`
}

// PayoutBreakdown описывает долю исполнителя от базовой суммы.
type PayoutBreakdown struct {
	Base          decimal.Decimal `json:"base"`
	FreelancerFee decimal.Decimal `json:"freelancer_fee"`
	EarningsKES   decimal.Decimal `json:"earnings_kes"`
	EarningsUSD   decimal.Decimal `json:"earnings_usd"`
}

// Charge считает итог к оплате: база + 2.5% + 50 KES.
func (f FeeSchedule) Charge(base decimal.Decimal) ChargeBreakdown {
	base = RoundKES(base)
	clientFee := RoundKES(base.Mul(f.ClientFeeRate))
	processing := RoundKES(f.ProcessingFeeKES)

	return ChargeBreakdown{
		Base:          base,
		ClientFee:     clientFee,
		ProcessingFee: processing,
		Total:         base.Add(clientFee).Add(processing),
	}
}

// Payout считает заработок исполнителя за вычетом 5% в KES и USD.
func (f FeeSchedule) Payout(base decimal.Decimal) PayoutBreakdown {
	base = RoundKES(base)
	fee := RoundKES(base.Mul(f.FreelancerFeeRate))
	earnings := base.Sub(fee)

	return PayoutBreakdown{
		Base:          base,
		FreelancerFee: fee,
		EarningsKES:   earnings,
		EarningsUSD:   f.ToUSD(earnings),
	}
}

// PlatformFees возвращает сумму всех комиссий платформы с одной оплаты.
func (f FeeSchedule) PlatformFees(charge ChargeBreakdown, payout PayoutBreakdown) decimal.Decimal {
	return charge.ClientFee.Add(charge.ProcessingFee).Add(payout.FreelancerFee)
}

// ToUSD переводит KES в USD по фиксированному курсу.
func (f FeeSchedule) ToUSD(kes decimal.Decimal) decimal.Decimal {
	return RoundUSD(kes.Mul(f.USDPerKES))
}

// ToKES переводит USD в KES по фиксированному курсу.
func (f FeeSchedule) ToKES(usd decimal.Decimal) decimal.Decimal {
	return RoundKES(usd.Mul(f.KESPerUSD))
}

// RoundKES округляет сумму в KES до двух знаков.
func RoundKES(d decimal.Decimal) decimal.Decimal {
	return d.Round(kesScale)
}

// RoundUSD округляет сумму в USD до четырёх знаков: балансы хранятся с этой точностью.
func RoundUSD(d decimal.Decimal) decimal.Decimal {
	return d.Round(usdScale)
}

// ToMinorUnits переводит KES в центы для шлюза.
func ToMinorUnits(kes decimal.Decimal) int64 {
	return RoundKES(kes).Mul(hundred).IntPart()
}

// FromMinorUnits переводит центы шлюза в KES.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -kesScale)
}

// HourlyBase считает базу почасовой работы: часы * ставка.
func HourlyBase(hours, rate decimal.Decimal) (decimal.Decimal, error) {
	if !hours.IsPositive() || !rate.IsPositive() {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "часы и ставка должны быть положительными")
	}
	return RoundKES(RoundKES(hours).Mul(RoundKES(rate))), nil
}

// ValidateKESAmount проверяет, что сумма положительна и не длиннее двух знаков после запятой.
func ValidateKESAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if !amount.Equal(RoundKES(amount)) {
		return apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("сумма %s содержит больше двух знаков после запятой", amount))
	}
	return nil
}
