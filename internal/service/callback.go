package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/models"
)

// MerchantCallback is the payload emitted to the merchant's callback URL
// on qualifying deal transitions.
type MerchantCallback struct {
	DealID       string `json:"id"`
	OrderID      string `json:"order_id"`
	AmountMicros int64  `json:"amount_micros"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// CallbackSender delivers signed status callbacks to merchants. Delivery is
// best-effort: failures are logged, never propagated into the ledger path.
type CallbackSender struct {
	client  *http.Client
	timeout time.Duration
}

func NewCallbackSender(timeout time.Duration) *CallbackSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CallbackSender{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Notify posts the deal's status to the callback URL, signing the body
// with the merchant's secret. Runs post-commit; the ledger does not wait
// on it.
func (s *CallbackSender) Notify(deal *models.Deal, callbackURL, secret string) {
	if callbackURL == "" {
		return
	}

	payload := MerchantCallback{
		DealID:       deal.ID.String(),
		OrderID:      deal.OrderID,
		AmountMicros: deal.AmountMicros,
		Currency:     deal.Currency,
		Status:       string(deal.Status),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("encode merchant callback", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		zap.L().Error("build merchant callback", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", SignPayload(secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		zap.L().Warn("merchant callback delivery failed",
			zap.String("deal_id", deal.ID.String()),
			zap.String("url", callbackURL),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		zap.L().Warn("merchant callback rejected",
			zap.String("deal_id", deal.ID.String()),
			zap.Int("status", resp.StatusCode))
	}
}

// SignPayload computes the hex HMAC-SHA256 signature merchants verify.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
