package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/neurolancer/backend/internal/pkg/apperror"
)

// SignatureHeader заголовок с подписью webhook.
const SignatureHeader = "X-Paystack-Signature"

// Sign считает HMAC-SHA512 тела запроса в hex.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сравнивает подпись за постоянное время.
func VerifySignature(body []byte, signature, secret string) error {
	if signature == "" || secret == "" {
		return apperror.ErrSignatureInvalid
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return apperror.ErrSignatureInvalid
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperror.ErrSignatureInvalid
	}
	return nil
}
