package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/videobot-system/internal/model"
	"github.com/mmeshcher/videobot-system/internal/provider"
)

// reconcileAction описывает решение по одному заказу в процессе сверки.
type reconcileAction int

const (
	actionNone reconcileAction = iota
	actionComplete
	actionFail
	actionRetry
)

// resolveOrder принимает решение по заказу на основании его возраста, счётчика
// опросов и ответа внешней системы. Предельные значения проверяются до учёта
// ответа: заказ, висящий дольше OrderTimeout или опрошенный больше MaxRetries
// раз, завершается отказом даже при живой внешней системе.
func resolveOrder(o *model.Order, st *provider.JobStatus, pollErr error, now time.Time, timeout time.Duration, maxRetries int) (reconcileAction, string) {
	if now.Sub(o.CreatedAt) > timeout {
		return actionFail, "generation timed out"
	}
	if o.RetryCount >= maxRetries {
		return actionFail, "status check limit exceeded"
	}

	if pollErr != nil || st == nil {
		return actionRetry, ""
	}

	switch st.State {
	case provider.JobStateCompleted:
		return actionComplete, st.ResultRef
	case provider.JobStateFailed:
		return actionFail, st.Error
	default:
		return actionRetry, ""
	}
}

// StartReconciliation запускает фоновый процесс сверки незавершённых заказов
// с внешними системами генерации.
func (s *Service) StartReconciliation(ctx context.Context) {
	if s.provider == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processReconcileBatch(ctx)
			}
		}
	}()
}

func (s *Service) processReconcileBatch(ctx context.Context) {
	orders, err := s.repo.GetProcessingOrders(ctx, 100)
	if err != nil {
		s.logger.Error("fetch processing orders failed", zap.Error(err))
		return
	}

	for i := range orders {
		o := &orders[i]

		var st *provider.JobStatus
		var pollErr error
		// Возраст и счётчик проверяются и без опроса, но сам опрос нужен
		// только заказу, не упёршемуся в предельные значения.
		if time.Since(o.CreatedAt) <= s.opts.OrderTimeout && o.RetryCount < s.opts.MaxRetries {
			st, pollErr = s.provider.PollStatus(ctx, o.Type, *o.ExternalJobID)
		}

		action, detail := resolveOrder(o, st, pollErr, time.Now(), s.opts.OrderTimeout, s.opts.MaxRetries)

		switch action {
		case actionComplete:
			s.completeAndDeliver(ctx, o.ID, detail)
		case actionFail:
			s.failAndNotify(ctx, o.ID, detail)
		case actionRetry:
			if _, err := s.repo.IncrementOrderRetry(ctx, o.ID); err != nil {
				s.logger.Error("increment order retry failed", zap.Int64("orderID", o.ID), zap.Error(err))
			}
		}
	}
}

// completeAndDeliver переводит заказ в completed и отправляет результат
// пользователю. Повторный вызов для уже завершённого заказа ничего не делает.
func (s *Service) completeAndDeliver(ctx context.Context, orderID int64, resultRef string) {
	applied, o, err := s.repo.CompleteOrder(ctx, orderID, resultRef)
	if err != nil {
		s.logger.Error("complete order failed", zap.Int64("orderID", orderID), zap.Error(err))
		return
	}
	if !applied {
		return
	}

	s.logger.Info("order completed", zap.Int64("orderID", o.ID), zap.Int64("accountID", o.AccountID))

	caption := fmt.Sprintf("✅ Заказ #%d готов!", o.ID)
	if o.Type == model.OrderTypePreview {
		err = s.sender.SendPhoto(ctx, o.AccountID, resultRef, caption)
	} else {
		err = s.sender.SendVideo(ctx, o.AccountID, resultRef, caption)
	}
	if err != nil {
		s.logger.Error("deliver result failed", zap.Int64("orderID", o.ID), zap.Error(err))
	}
}

// failAndNotify переводит заказ в failed, возвращает удержанные кредиты и
// уведомляет пользователя. Возврат выполняется не более одного раза.
func (s *Service) failAndNotify(ctx context.Context, orderID int64, reason string) {
	applied, o, err := s.repo.FailOrderWithRefund(ctx, orderID, reason)
	if err != nil {
		s.logger.Error("fail order failed", zap.Int64("orderID", orderID), zap.Error(err))
		return
	}
	if !applied {
		return
	}

	s.logger.Info("order failed",
		zap.Int64("orderID", o.ID), zap.Int64("accountID", o.AccountID), zap.String("reason", reason))

	text := fmt.Sprintf("❌ Заказ #%d не выполнен.\n\n💰 Возвращено %d кредитов на баланс.", o.ID, o.Cost)
	if err := s.sender.SendMessage(ctx, o.AccountID, text, nil); err != nil {
		s.logger.Error("notify failure failed", zap.Int64("orderID", o.ID), zap.Error(err))
	}
}

// FinalizeFromCallback завершает заказ по push-уведомлению внешней системы,
// минуя цикл опроса. Неизвестный jobID и неконечные статусы игнорируются.
func (s *Service) FinalizeFromCallback(ctx context.Context, jobID string, state provider.JobState, resultRef, errorMessage string) error {
	o, err := s.repo.GetOrderByJobID(ctx, jobID)
	if err != nil {
		return err
	}

	switch state {
	case provider.JobStateCompleted:
		s.completeAndDeliver(ctx, o.ID, resultRef)
	case provider.JobStateFailed:
		if errorMessage == "" {
			errorMessage = "unknown error"
		}
		s.failAndNotify(ctx, o.ID, errorMessage)
	}
	return nil
}
