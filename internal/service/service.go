// Package service реализует бизнес-логику сервиса генерации видео:
// журнал операций по счёту, жизненный цикл заказов, обработку платежей
// и диалог создания заказа.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/videobot-system/internal/model"
	"github.com/mmeshcher/videobot-system/internal/payment"
	"github.com/mmeshcher/videobot-system/internal/provider"
	"github.com/mmeshcher/videobot-system/internal/repository"
	"github.com/mmeshcher/videobot-system/internal/telegram"
)

// ErrSubmissionFailed возвращается, если заказ не удалось передать во внешнюю
// систему генерации. Средства к этому моменту уже возвращены на счёт.
var ErrSubmissionFailed = errors.New("job submission failed")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	GetOrCreateAccount(ctx context.Context, id int64, username, firstName string, welcomeBonus int64) (*model.Account, bool, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	TouchActivity(ctx context.Context, id int64) error

	Credit(ctx context.Context, accountID, amount int64, kind model.EntryKind, description string, externalPaymentID *string, orderID *int64) (int64, bool, error)
	Debit(ctx context.Context, accountID, amount int64, kind model.EntryKind, description string, orderID *int64) (int64, error)
	GetBalance(ctx context.Context, accountID int64) (int64, int64, error)

	CreateOrderWithHold(ctx context.Context, o *model.Order) (int64, error)
	SetOrderJob(ctx context.Context, orderID int64, jobID string) error
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
	GetOrderByJobID(ctx context.Context, jobID string) (*model.Order, error)
	GetProcessingOrders(ctx context.Context, limit int) ([]model.Order, error)
	CompleteOrder(ctx context.Context, orderID int64, resultRef string) (bool, *model.Order, error)
	FailOrderWithRefund(ctx context.Context, orderID int64, errorMessage string) (bool, *model.Order, error)
	IncrementOrderRetry(ctx context.Context, orderID int64) (int, error)

	GetConversationState(ctx context.Context, accountID int64) (*model.ConversationState, error)
	SetConversationState(ctx context.Context, st *model.ConversationState) error
	ClearConversationState(ctx context.Context, accountID int64) error

	AllowAction(ctx context.Context, accountID int64, action model.ActionType, limit int, window time.Duration) (bool, error)
	LogError(ctx context.Context, accountID, orderID *int64, source, errorType, message string, payload []byte) error

	GetDashboard(ctx context.Context) (*repository.Dashboard, error)
}

// Provider описывает контракт внешней системы генерации.
type Provider interface {
	SubmitJob(ctx context.Context, o *model.Order) (string, error)
	PollStatus(ctx context.Context, orderType model.OrderType, jobID string) (*provider.JobStatus, error)
}

// Sender описывает контракт исходящих сообщений пользователю.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboard) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *telegram.InlineKeyboard) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error
	SendVideo(ctx context.Context, chatID int64, videoURL, caption string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	AnswerPreCheckout(ctx context.Context, preCheckoutID string, ok bool, errorMessage string) error
}

// PaymentCreator описывает контракт создания платежей на пополнение.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, accountID, amount int64) (*payment.Payment, error)
}

// Options содержит настраиваемые параметры бизнес-логики.
type Options struct {
	WelcomeBonus int64
	StarsRate    float64
	PollInterval time.Duration
	OrderTimeout time.Duration
	MaxRetries   int
	RateLimit    int
	RateWindow   time.Duration
	StateIdleTTL time.Duration
}

// Service содержит бизнес-логику сервиса генерации видео.
type Service struct {
	repo     Repository
	provider Provider
	sender   Sender
	payments PaymentCreator
	opts     Options
	logger   *zap.Logger
}

// NewService создаёт новый сервис с указанными зависимостями.
func NewService(repo Repository, prov Provider, sender Sender, payments PaymentCreator, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		provider: prov,
		sender:   sender,
		payments: payments,
		opts:     opts,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateOrder создаёт заказ: фиксирует стоимость, списывает её со счёта и
// передаёт задачу во внешнюю систему генерации. Если передача не удалась,
// заказ сразу переводится в failed с возвратом средств: удержание никогда
// не остаётся без заказа в обработке или возврата.
func (s *Service) CreateOrder(ctx context.Context, accountID int64, st *model.ConversationState) (*model.Order, error) {
	cost, err := OrderCost(st.OrderType, st.Duration, st.Quality, len(st.Scenes))
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		AccountID: accountID,
		Type:      st.OrderType,
		Prompt:    st.Prompt,
		ImageRef:  st.ImageRef,
		Duration:  st.Duration,
		Quality:   st.Quality,
		Scenes:    st.Scenes,
		Cost:      cost,
		Status:    model.OrderStatusProcessing,
	}

	orderID, err := s.repo.CreateOrderWithHold(ctx, o)
	if err != nil {
		return nil, err
	}
	o.ID = orderID

	jobID, err := s.provider.SubmitJob(ctx, o)
	if err != nil {
		s.logger.Error("job submission failed",
			zap.Int64("orderID", orderID), zap.Error(err))

		if _, _, failErr := s.repo.FailOrderWithRefund(ctx, orderID, fmt.Sprintf("submission failed: %v", err)); failErr != nil {
			return nil, fmt.Errorf("fail order after submission error: %w", failErr)
		}
		return o, ErrSubmissionFailed
	}

	// Потерять идентификатор задачи нельзя: заказ без него невидим для цикла
	// сверки, и удержание зависло бы навсегда. Поэтому такой заказ сразу
	// завершается отказом с возвратом средств.
	if err := s.repo.SetOrderJob(ctx, orderID, jobID); err != nil {
		s.logger.Error("persist job id failed",
			zap.Int64("orderID", orderID), zap.String("jobID", jobID), zap.Error(err))

		if _, _, failErr := s.repo.FailOrderWithRefund(ctx, orderID, fmt.Sprintf("persist job id: %v", err)); failErr != nil {
			return nil, fmt.Errorf("fail order after job id error: %w", failErr)
		}
		return o, ErrSubmissionFailed
	}
	o.ExternalJobID = &jobID

	return o, nil
}

// GetBalance возвращает баланс счёта.
func (s *Service) GetBalance(ctx context.Context, accountID int64) (*model.Balance, error) {
	current, withdrawn, err := s.repo.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Current:   current,
		Withdrawn: withdrawn,
	}, nil
}

// ApplyPayment идемпотентно зачисляет успешный платёж на счёт.
// Повторное уведомление с тем же идентификатором платежа не изменяет баланс
// и не отправляет повторное сообщение пользователю.
func (s *Service) ApplyPayment(ctx context.Context, externalPaymentID string, accountID, amountCredits int64) (int64, error) {
	if externalPaymentID == "" || accountID == 0 || amountCredits <= 0 {
		return 0, fmt.Errorf("invalid payment notification")
	}

	balance, applied, err := s.repo.Credit(ctx, accountID, amountCredits, model.EntryKindPurchase,
		fmt.Sprintf("Пополнение на %d кредитов", amountCredits), &externalPaymentID, nil)
	if err != nil {
		return 0, err
	}

	if applied {
		text := fmt.Sprintf("✅ Оплата прошла успешно!\n\n💰 Начислено: %d кредитов\n💵 Новый баланс: %d кредитов",
			amountCredits, balance)
		if sendErr := s.sender.SendMessage(ctx, accountID, text, nil); sendErr != nil {
			s.logger.Error("payment notification failed",
				zap.Int64("accountID", accountID), zap.Error(sendErr))
		}
	}

	return balance, nil
}

// PaymentCanceled уведомляет пользователя об отменённом платеже.
// Баланс и журнал операций не изменяются.
func (s *Service) PaymentCanceled(ctx context.Context, accountID int64) error {
	return s.sender.SendMessage(ctx, accountID, "❌ Платёж отменён", nil)
}

// AdminAdjust изменяет баланс счёта решением администратора. Положительная
// сумма начисляется, отрицательная списывается; обе проходят через журнал
// операций тем же атомарным путём, что и остальные изменения баланса.
func (s *Service) AdminAdjust(ctx context.Context, accountID, amount int64, description string) (int64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("adjustment amount must not be zero")
	}
	if description == "" {
		description = "Корректировка администратором"
	}

	if amount > 0 {
		balance, _, err := s.repo.Credit(ctx, accountID, amount, model.EntryKindAdminAdjustment, description, nil, nil)
		return balance, err
	}
	return s.repo.Debit(ctx, accountID, -amount, model.EntryKindAdminAdjustment, description, nil)
}

// Dashboard возвращает сводные данные панели администратора.
func (s *Service) Dashboard(ctx context.Context) (*repository.Dashboard, error) {
	return s.repo.GetDashboard(ctx)
}

// RecordError сохраняет сведения о сбое обработки в журнале ошибок.
// Сбой записи журнала сам по себе не фатален и только логируется.
func (s *Service) RecordError(ctx context.Context, accountID *int64, source, errorType, message string, payload []byte) {
	if err := s.repo.LogError(ctx, accountID, nil, source, errorType, message, payload); err != nil {
		s.logger.Error("log error failed", zap.String("source", source), zap.Error(err))
	}
}

// allow проверяет лимит частоты действий пользователя.
func (s *Service) allow(ctx context.Context, accountID int64, action model.ActionType) bool {
	allowed, err := s.repo.AllowAction(ctx, accountID, action, s.opts.RateLimit, s.opts.RateWindow)
	if err != nil {
		s.logger.Error("rate limit check failed",
			zap.Int64("accountID", accountID), zap.Error(err))
		// При сбое проверки лимита действие пропускается.
		return true
	}
	return allowed
}
