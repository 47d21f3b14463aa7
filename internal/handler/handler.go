// Package handler содержит HTTP-обработчики webhook и API сервиса
// генерации видео.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/videobot-system/internal/provider"
	"github.com/mmeshcher/videobot-system/internal/repository"
	"github.com/mmeshcher/videobot-system/internal/telegram"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	HandleMessage(ctx context.Context, msg *telegram.Message) error
	HandleCallback(ctx context.Context, cb *telegram.CallbackQuery) error
	HandlePreCheckout(ctx context.Context, q *telegram.PreCheckoutQuery) error
	ApplyPayment(ctx context.Context, externalPaymentID string, accountID, amountCredits int64) (int64, error)
	PaymentCanceled(ctx context.Context, accountID int64) error
	FinalizeFromCallback(ctx context.Context, jobID string, state provider.JobState, resultRef, errorMessage string) error
	AdminAdjust(ctx context.Context, accountID, amount int64, description string) (int64, error)
	Dashboard(ctx context.Context) (*repository.Dashboard, error)
	RecordError(ctx context.Context, accountID *int64, source, errorType, message string, payload []byte)
}

// Handler реализует HTTP-обработчики сервиса генерации видео.
type Handler struct {
	service       Service
	logger        *zap.Logger
	webhookSecret string
	adminToken    string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, webhookSecret, adminToken string) *Handler {
	return &Handler{
		service:       s,
		logger:        logger,
		webhookSecret: webhookSecret,
		adminToken:    adminToken,
	}
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// TelegramWebhook принимает обновления Telegram Bot API. Ответ всегда 200 OK:
// иной статус заставил бы Telegram бесконечно повторять доставку одного и
// того же обновления.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ack(w)
		return
	}

	var upd telegram.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		h.logger.Error("decode telegram update", zap.Error(err))
		webhookErrorsTotal.WithLabelValues("telegram").Inc()
		h.service.RecordError(r.Context(), nil, "telegram", "decode", err.Error(), body)
		ack(w)
		return
	}

	var accountID *int64
	switch {
	case upd.Message != nil:
		updatesTotal.WithLabelValues("message").Inc()
		accountID = &upd.Message.From.ID
		err = h.service.HandleMessage(r.Context(), upd.Message)
	case upd.CallbackQuery != nil:
		updatesTotal.WithLabelValues("callback").Inc()
		accountID = &upd.CallbackQuery.From.ID
		err = h.service.HandleCallback(r.Context(), upd.CallbackQuery)
	case upd.PreCheckoutQuery != nil:
		updatesTotal.WithLabelValues("pre_checkout").Inc()
		accountID = &upd.PreCheckoutQuery.From.ID
		err = h.service.HandlePreCheckout(r.Context(), upd.PreCheckoutQuery)
	default:
		updatesTotal.WithLabelValues("other").Inc()
	}

	if err != nil {
		h.logger.Error("handle telegram update",
			zap.Int64("updateID", upd.UpdateID), zap.Error(err))
		webhookErrorsTotal.WithLabelValues("telegram").Inc()
		h.service.RecordError(r.Context(), accountID, "telegram", "handle", err.Error(), body)
	}

	ack(w)
}

type paymentNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Amount struct {
			Value string `json:"value"`
		} `json:"amount"`
		Metadata struct {
			UserID string `json:"user_id"`
		} `json:"metadata"`
	} `json:"object"`
}

// PaymentWebhook принимает уведомления платёжной системы. Ответ всегда 200 OK:
// сбой обработки фиксируется в журнале ошибок, а не возвращается отправителю.
// Повторная доставка уведомления об успешном платеже не приводит к повторному
// зачислению.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ack(w)
		return
	}

	var n paymentNotification
	if err := json.Unmarshal(body, &n); err != nil {
		h.logger.Error("decode payment notification", zap.Error(err))
		webhookErrorsTotal.WithLabelValues("payment").Inc()
		h.service.RecordError(r.Context(), nil, "payment", "decode", err.Error(), body)
		ack(w)
		return
	}

	paymentEventsTotal.WithLabelValues(n.Event).Inc()

	accountID, err := strconv.ParseInt(n.Object.Metadata.UserID, 10, 64)
	if err != nil {
		h.logger.Error("payment notification without user id", zap.String("paymentID", n.Object.ID))
		webhookErrorsTotal.WithLabelValues("payment").Inc()
		h.service.RecordError(r.Context(), nil, "payment", "decode", "missing or invalid metadata.user_id", body)
		ack(w)
		return
	}

	switch n.Event {
	case "payment.succeeded":
		amount, err := strconv.ParseFloat(n.Object.Amount.Value, 64)
		if err != nil || amount <= 0 {
			h.logger.Error("payment notification with bad amount",
				zap.String("paymentID", n.Object.ID), zap.String("amount", n.Object.Amount.Value))
			webhookErrorsTotal.WithLabelValues("payment").Inc()
			h.service.RecordError(r.Context(), &accountID, "payment", "decode", "invalid amount.value", body)
			ack(w)
			return
		}

		// 1 кредит = 1 рубль.
		if _, err := h.service.ApplyPayment(r.Context(), n.Object.ID, accountID, int64(amount)); err != nil {
			h.logger.Error("apply payment",
				zap.String("paymentID", n.Object.ID), zap.Int64("accountID", accountID), zap.Error(err))
			webhookErrorsTotal.WithLabelValues("payment").Inc()
			h.service.RecordError(r.Context(), &accountID, "payment", "apply", err.Error(), body)
		}
	case "payment.canceled":
		if err := h.service.PaymentCanceled(r.Context(), accountID); err != nil {
			h.logger.Error("payment canceled notice", zap.Int64("accountID", accountID), zap.Error(err))
		}
	}

	ack(w)
}

type providerCallback struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

// ProviderCallback принимает push-уведомление системы генерации о завершении
// задачи. Неизвестный task_id отвергается, чтобы отправитель заметил рассинхрон.
func (h *Handler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var cb providerCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil || cb.TaskID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	providerCallbacksTotal.WithLabelValues(cb.Status).Inc()

	var state provider.JobState
	switch cb.Status {
	case "completed":
		state = provider.JobStateCompleted
	case "failed":
		state = provider.JobStateFailed
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.service.FinalizeFromCallback(r.Context(), cb.TaskID, state, cb.ResultURL, cb.Error); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("provider callback", zap.String("taskID", cb.TaskID), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// AdminDashboard возвращает сводную статистику сервиса.
func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("dashboard", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d); err != nil {
		h.logger.Error("encode dashboard", zap.Error(err))
	}
}

type adminAdjustRequest struct {
	AccountID   int64  `json:"account_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type adminAdjustResponse struct {
	Balance int64 `json:"balance"`
}

// AdminAdjust изменяет баланс счёта решением администратора.
func (h *Handler) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	var req adminAdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.AccountID == 0 || req.Amount == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.AdminAdjust(r.Context(), req.AccountID, req.Amount, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAccountNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInsufficientFunds):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("admin adjust", zap.Int64("accountID", req.AccountID), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(adminAdjustResponse{Balance: balance}); err != nil {
		h.logger.Error("encode adjust response", zap.Error(err))
	}
}
