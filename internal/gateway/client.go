package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/config"
	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/pkg/apperror"
)

const (
	currencyKES = "KES"

	defaultLookupTimeout = 10 * time.Second
	defaultWriteTimeout  = 30 * time.Second
)

// Client адаптер Paystack-совместимого шлюза. Ошибки приводятся к GATEWAY_REJECTED или GATEWAY_TRANSIENT.
type Client struct {
	cfg           config.GatewayConfig
	httpClient    *http.Client
	lookupTimeout time.Duration
	writeTimeout  time.Duration
}

// NewClient создаёт адаптер с ключами из конфигурации.
func NewClient(cfg config.GatewayConfig) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:           cfg,
		httpClient:    &http.Client{},
		lookupTimeout: defaultLookupTimeout,
		writeTimeout:  defaultWriteTimeout,
	}
}

// InitializeTransaction создаёт платёж и возвращает ссылку на оплату.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if req.Currency == "" {
		req.Currency = currencyKES
	}
	if len(req.Channels) == 0 {
		req.Channels = DefaultChannels
	}
	if req.CallbackURL == "" {
		req.CallbackURL = c.cfg.CallbackURL()
	}

	var result InitializeResult
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", nil, req, c.writeTimeout, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VerifyTransaction возвращает каноническую запись платежа.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Charge, error) {
	var charge Charge
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, c.lookupTimeout, &charge); err != nil {
		return nil, err
	}
	charge.Metadata = normalizeMetadata(charge.Metadata)
	return &charge, nil
}

// ListBanks возвращает банки и операторов мобильных денег Кении.
func (c *Client) ListBanks(ctx context.Context) ([]Bank, error) {
	var banks []Bank
	query := url.Values{"country": {"kenya"}, "currency": {currencyKES}}
	if err := c.do(ctx, http.MethodGet, "/bank", query, nil, c.lookupTimeout, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}

// ResolveAccount проверяет счёт и возвращает имя владельца.
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	var account ResolvedAccount
	query := url.Values{"account_number": {accountNumber}, "bank_code": {bankCode}}
	if err := c.do(ctx, http.MethodGet, "/bank/resolve", query, nil, c.lookupTimeout, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateRecipient регистрирует получателя перевода.
func (c *Client) CreateRecipient(ctx context.Context, req RecipientRequest) (*Recipient, error) {
	if req.Currency == "" {
		req.Currency = currencyKES
	}
	var recipient Recipient
	if err := c.do(ctx, http.MethodPost, "/transferrecipient", nil, req, c.writeTimeout, &recipient); err != nil {
		return nil, err
	}
	if recipient.RecipientCode == "" {
		return nil, rejected("шлюз не вернул код получателя", nil)
	}
	return &recipient, nil
}

// InitiateTransfer запускает перевод с баланса платформы.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if req.Source == "" {
		req.Source = "balance"
	}
	if req.Currency == "" {
		req.Currency = currencyKES
	}
	var transfer Transfer
	if err := c.do(ctx, http.MethodPost, "/transfer", nil, req, c.writeTimeout, &transfer); err != nil {
		return nil, err
	}
	if transfer.Reference == "" {
		transfer.Reference = req.Reference
	}
	return &transfer, nil
}

// ParseWebhook проверяет подпись и разбирает конверт события.
func (c *Client) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	if err := VerifySignature(body, signature, c.cfg.SecretKey); err != nil {
		return nil, err
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "некорректное тело webhook")
	}
	return &event, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать запрос к шлюзу")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать запрос к шлюзу")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).WithError(err).Warn("gateway: запрос не выполнен")
		return transient(err)
	}
	defer resp.Body.Close()

	logger.Log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(started).String(),
	}).Debug("gateway: ответ получен")

	if resp.StatusCode >= http.StatusInternalServerError {
		return transient(fmt.Errorf("gateway: код ответа %d", resp.StatusCode))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return rejected(fmt.Sprintf("шлюз отклонил запрос (код %d)", resp.StatusCode), err)
		}
		return transient(fmt.Errorf("gateway: некорректный ответ: %w", err))
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("шлюз отклонил запрос (код %d)", resp.StatusCode)
		}
		return rejected(msg, nil)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return transient(fmt.Errorf("gateway: некорректные данные ответа: %w", err))
	}
	return nil
}

// normalizeMetadata разворачивает metadata, пришедшую строкой с JSON внутри.
func normalizeMetadata(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return raw
	}
	return json.RawMessage(s)
}

func rejected(msg string, cause error) *apperror.AppError {
	if cause == nil {
		return apperror.New(apperror.ErrCodeGatewayRejected, msg)
	}
	return apperror.Wrap(cause, apperror.ErrCodeGatewayRejected, msg)
}

func transient(cause error) *apperror.AppError {
	msg := "платёжный шлюз временно недоступен"
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "платёжный шлюз не ответил вовремя"
	}
	return apperror.Wrap(cause, apperror.ErrCodeGatewayTransient, msg)
}
