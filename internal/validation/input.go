package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/neurolancer/backend/internal/models"
)

// Константы валидации
const (
	MinMessageLength       = 1
	MaxMessageLength       = 5000
	MaxAccountNameLength   = 100
	MaxGroupNameLength     = 100
	MinBankAccountLength   = 6
	MaxBankAccountLength   = 20
	InviteCodeLength       = 8
	MaxAttachmentNameBytes = 255
)

// MpesaBankCode код оператора M-Pesa в справочнике банков шлюза.
const MpesaBankCode = "MPESA"

var (
	digitsRegex     = regexp.MustCompile(`^[0-9]+$`)
	mpesaRegex      = regexp.MustCompile(`^(?:\+?254|0)?([17][0-9]{8})$`)
	inviteCodeRegex = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateMessage проверяет сообщение: нужен текст или вложение.
func ValidateMessage(content string, hasAttachment bool) error {
	content = strings.TrimSpace(content)
	if content == "" {
		if hasAttachment {
			return nil
		}
		return fmt.Errorf("сообщение не может быть пустым")
	}
	return ValidateLength("сообщение", content, MinMessageLength, MaxMessageLength)
}

// ValidateWithdrawMethod проверяет способ вывода.
func ValidateWithdrawMethod(method string) error {
	switch method {
	case models.WithdrawalMethodBank, models.WithdrawalMethodMpesa:
		return nil
	}
	return fmt.Errorf("способ вывода должен быть bank или mpesa")
}

// NormalizeMpesaNumber приводит номер M-Pesa к виду 2547XXXXXXXX.
func NormalizeMpesaNumber(phone string) (string, error) {
	phone = strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	m := mpesaRegex.FindStringSubmatch(phone)
	if m == nil {
		return "", fmt.Errorf("номер M-Pesa должен быть кенийским мобильным номером")
	}
	return "254" + m[1], nil
}

// PayoutAccount реквизиты получателя вывода.
type PayoutAccount struct {
	Method        string
	AccountNumber string
	BankCode      string
}

// NormalizePayoutAccount проверяет реквизиты и подставляет код M-Pesa.
func NormalizePayoutAccount(acc PayoutAccount) (PayoutAccount, error) {
	if err := ValidateWithdrawMethod(acc.Method); err != nil {
		return acc, err
	}

	if acc.Method == models.WithdrawalMethodMpesa {
		phone, err := NormalizeMpesaNumber(acc.AccountNumber)
		if err != nil {
			return acc, err
		}
		acc.AccountNumber = phone
		if acc.BankCode == "" {
			acc.BankCode = MpesaBankCode
		}
		return acc, nil
	}

	acc.AccountNumber = strings.TrimSpace(acc.AccountNumber)
	if !digitsRegex.MatchString(acc.AccountNumber) {
		return acc, fmt.Errorf("номер счёта должен состоять из цифр")
	}
	if err := ValidateLength("номер счёта", acc.AccountNumber, MinBankAccountLength, MaxBankAccountLength); err != nil {
		return acc, err
	}
	if err := ValidateNonEmpty("код банка", acc.BankCode); err != nil {
		return acc, err
	}
	return acc, nil
}

// ValidateInviteCode проверяет формат кода приглашения.
func ValidateInviteCode(code string) error {
	if !inviteCodeRegex.MatchString(code) {
		return fmt.Errorf("код приглашения должен состоять из %d латинских букв и цифр", InviteCodeLength)
	}
	return nil
}

// SanitizeFileName оставляет от имени файла только базовую часть без управляющих символов.
func SanitizeFileName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	for len(name) > MaxAttachmentNameBytes {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
