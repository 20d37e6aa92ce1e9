package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurolancer/backend/internal/config"
	"github.com/neurolancer/backend/internal/pkg/apperror"
)

const testSecret = "sk_test_secret"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.GatewayConfig{
		SecretKey:   testSecret,
		BaseURL:     srv.URL + "/",
		FrontendURL: "https://app.example.com",
	})
}

func writeEnvelope(w http.ResponseWriter, status int, ok bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": ok, "message": message, "data": data})
}

func TestClient_InitializeTransaction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer "+testSecret, r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(107500), body["amount"])
		assert.Equal(t, "KES", body["currency"])
		assert.Equal(t, "https://app.example.com/payment/callback", body["callback_url"])
		assert.Len(t, body["channels"], 3)
		meta := body["metadata"].(map[string]any)
		assert.Equal(t, "gig", meta["payment_type"])

		writeEnvelope(w, http.StatusOK, true, "Authorization URL created", map[string]any{
			"authorization_url": "https://checkout.example.com/abc",
			"access_code":       "abc",
			"reference":         "neurolancer_order_1_20240101120000",
		})
	})

	res, err := c.InitializeTransaction(context.Background(), InitializeRequest{
		Email:     "a@example.com",
		Amount:    107500,
		Reference: "neurolancer_order_1_20240101120000",
		Metadata:  json.RawMessage(`{"payment_type":"gig"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/abc", res.AuthorizationURL)
	assert.Equal(t, "abc", res.AccessCode)
}

func TestClient_VerifyTransaction_StringMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref_1", r.URL.Path)
		writeEnvelope(w, http.StatusOK, true, "Verification successful", map[string]any{
			"reference": "ref_1",
			"status":    "success",
			"amount":    107500,
			"currency":  "KES",
			"metadata":  `{"payment_type":"gig","order_id":"x"}`,
		})
	})

	charge, err := c.VerifyTransaction(context.Background(), "ref_1")
	require.NoError(t, err)
	assert.True(t, charge.Succeeded())
	assert.Equal(t, int64(107500), charge.Amount)
	assert.JSONEq(t, `{"payment_type":"gig","order_id":"x"}`, string(charge.Metadata))
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode apperror.ErrorCode
	}{
		{
			name: "4xx is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusBadRequest, false, "Could not resolve account name", nil)
			},
			wantCode: apperror.ErrCodeGatewayRejected,
		},
		{
			name: "status false is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusOK, false, "Invalid key", nil)
			},
			wantCode: apperror.ErrCodeGatewayRejected,
		},
		{
			name: "5xx is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantCode: apperror.ErrCodeGatewayTransient,
		},
		{
			name: "garbage body on 200 is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "<html>")
			},
			wantCode: apperror.ErrCodeGatewayTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.ResolveAccount(context.Background(), "0123456789", "01")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperror.CodeOf(err))
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c.lookupTimeout = 50 * time.Millisecond

	_, err := c.ListBanks(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.IsGatewayTransient(err))
}

func TestClient_ResolveAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bank/resolve", r.URL.Path)
		assert.Equal(t, "0123456789", r.URL.Query().Get("account_number"))
		assert.Equal(t, "01", r.URL.Query().Get("bank_code"))
		writeEnvelope(w, http.StatusOK, true, "Account number resolved", map[string]any{
			"account_number": "0123456789",
			"account_name":   "JANE DOE",
		})
	})

	acc, err := c.ResolveAccount(context.Background(), "0123456789", "01")
	require.NoError(t, err)
	assert.Equal(t, "JANE DOE", acc.AccountName)
}

func TestClient_RecipientAndTransfer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/transferrecipient":
			assert.Equal(t, RecipientMobileMoney, body["type"])
			assert.Equal(t, "KES", body["currency"])
			writeEnvelope(w, http.StatusCreated, true, "Transfer recipient created", map[string]any{"recipient_code": "RCP_1"})
		case "/transfer":
			assert.Equal(t, "balance", body["source"])
			assert.Equal(t, float64(100000), body["amount"])
			assert.Equal(t, "RCP_1", body["recipient"])
			writeEnvelope(w, http.StatusOK, true, "Transfer has been queued", map[string]any{
				"transfer_code": "TRF_1",
				"status":        "pending",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	rcp, err := c.CreateRecipient(context.Background(), RecipientRequest{
		Type: RecipientMobileMoney, Name: "Jane", AccountNumber: "0712345678", BankCode: "MPESA",
	})
	require.NoError(t, err)
	assert.Equal(t, "RCP_1", rcp.RecipientCode)

	tr, err := c.InitiateTransfer(context.Background(), TransferRequest{
		Amount: 100000, Recipient: rcp.RecipientCode, Reason: "Вывод средств", Reference: "withdrawal_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRF_1", tr.TransferCode)
	assert.Equal(t, "withdrawal_1", tr.Reference)
}

func TestParseWebhook(t *testing.T) {
	c := NewClient(config.GatewayConfig{SecretKey: testSecret})
	body := []byte(`{"event":"transfer.failed","data":{"reference":"withdrawal_1","status":"failed"}}`)

	t.Run("valid signature", func(t *testing.T) {
		event, err := c.ParseWebhook(body, Sign(body, testSecret))
		require.NoError(t, err)
		assert.Equal(t, EventTransferFailed, event.Event)

		var data TransferEvent
		require.NoError(t, json.Unmarshal(event.Data, &data))
		assert.Equal(t, "withdrawal_1", data.Reference)
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := Sign(body, testSecret)
		_, err := c.ParseWebhook(append([]byte{' '}, body...), sig)
		assert.True(t, apperror.IsSignatureInvalid(err))
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := c.ParseWebhook(body, Sign(body, "other"))
		assert.True(t, apperror.IsSignatureInvalid(err))
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := c.ParseWebhook(body, "")
		assert.True(t, apperror.IsSignatureInvalid(err))
	})
}
