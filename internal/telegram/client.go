// Package telegram предоставляет клиент Bot API и словарь кнопок бота.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие с Telegram Bot API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент Bot API. Пустой apiAddress означает рабочий адрес Telegram.
func NewClient(apiAddress, token string) *Client {
	if apiAddress == "" {
		apiAddress = "https://api.telegram.org"
	}

	return &Client{
		baseURL: strings.TrimRight(apiAddress, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	return nil
}

// SendMessage отправляет текстовое сообщение с необязательной клавиатурой.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboard) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if keyboard != nil {
		payload["reply_markup"] = keyboard
	}
	return c.call(ctx, "sendMessage", payload)
}

// EditMessageText изменяет текст ранее отправленного сообщения.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *InlineKeyboard) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if keyboard != nil {
		payload["reply_markup"] = keyboard
	}
	return c.call(ctx, "editMessageText", payload)
}

// SendPhoto отправляет фото по ссылке с подписью.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error {
	return c.call(ctx, "sendPhoto", map[string]any{
		"chat_id": chatID,
		"photo":   photoURL,
		"caption": caption,
	})
}

// SendVideo отправляет видео по ссылке с подписью.
func (c *Client) SendVideo(ctx context.Context, chatID int64, videoURL, caption string) error {
	return c.call(ctx, "sendVideo", map[string]any{
		"chat_id": chatID,
		"video":   videoURL,
		"caption": caption,
	})
}

// AnswerCallback подтверждает обработку нажатия на кнопку.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload)
}

// AnswerPreCheckout отвечает на предварительный запрос оплаты.
// Telegram требует ответ в течение 10 секунд, иначе платёж отклоняется.
func (c *Client) AnswerPreCheckout(ctx context.Context, preCheckoutID string, ok bool, errorMessage string) error {
	payload := map[string]any{
		"pre_checkout_query_id": preCheckoutID,
		"ok":                    ok,
	}
	if !ok && errorMessage != "" {
		payload["error_message"] = errorMessage
	}
	return c.call(ctx, "answerPreCheckoutQuery", payload)
}
