// Package payment предоставляет клиент платёжной системы ЮKassa.
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultAPIAddress = "https://api.yookassa.ru"

// Client инкапсулирует создание платежей в ЮKassa.
type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	returnURL  string
	httpClient *http.Client
}

// NewClient создаёт клиент ЮKassa. Пустой apiAddress означает рабочий адрес API.
func NewClient(apiAddress, shopID, secretKey, returnURL string) *Client {
	if apiAddress == "" {
		apiAddress = defaultAPIAddress
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(apiAddress, "/"),
		shopID:     shopID,
		secretKey:  secretKey,
		returnURL:  returnURL,
		httpClient: rc.StandardClient(),
	}
}

// Payment описывает созданный платёж и ссылку для его подтверждения.
type Payment struct {
	ID              string
	ConfirmationURL string
}

type createPaymentResponse struct {
	ID           string `json:"id"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// CreatePayment создаёт платёж на пополнение счёта и возвращает ссылку на оплату.
// Идентификатор счёта передаётся в metadata и возвращается в webhook-уведомлении.
func (c *Client) CreatePayment(ctx context.Context, accountID, amount int64) (*Payment, error) {
	if c.shopID == "" || c.secretKey == "" {
		return nil, fmt.Errorf("payment client not configured")
	}

	payload := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%d.00", amount),
			"currency": "RUB",
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": c.returnURL,
		},
		"capture": true,
		"metadata": map[string]string{
			"user_id": fmt.Sprintf("%d", accountID),
		},
		"description": fmt.Sprintf("Пополнение баланса на %d кредитов", amount),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Idempotence-Key", fmt.Sprintf("%d_%d_%d", accountID, amount, time.Now().UnixNano()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result createPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Payment{
		ID:              result.ID,
		ConfirmationURL: result.Confirmation.ConfirmationURL,
	}, nil
}
