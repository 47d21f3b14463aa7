package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/videobot-system/internal/model"
	"github.com/mmeshcher/videobot-system/internal/repository"
	"github.com/mmeshcher/videobot-system/internal/telegram"
	"github.com/mmeshcher/videobot-system/internal/validation"
)

const helpText = `ℹ️ Справка по боту:

🎨 Превью — 30 кредитов
🎥 Видео из текста — 180-800 кредитов
🖼 Видео из фото — 230-850 кредитов
📽 Storyboard — от 180 кредитов

1 кредит = 1 рубль`

// HandleMessage обрабатывает входящее текстовое сообщение или фото.
func (s *Service) HandleMessage(ctx context.Context, msg *telegram.Message) error {
	accountID := msg.From.ID

	if !s.allow(ctx, accountID, model.ActionMessage) {
		return s.sender.SendMessage(ctx, accountID, "⚠️ Слишком много запросов. Подождите минуту.", nil)
	}

	acc, created, err := s.repo.GetOrCreateAccount(ctx, accountID, msg.From.Username, msg.From.FirstName, s.opts.WelcomeBonus)
	if err != nil {
		return err
	}

	if acc.Blocked {
		return s.sender.SendMessage(ctx, accountID, "🚫 Ваш аккаунт заблокирован. Поддержка: @support", nil)
	}

	if err := s.repo.TouchActivity(ctx, accountID); err != nil {
		s.logger.Error("touch activity failed", zap.Int64("accountID", accountID), zap.Error(err))
	}

	if msg.SuccessfulPayment != nil {
		return s.applyTelegramPayment(ctx, accountID, msg.SuccessfulPayment)
	}

	if msg.Text == "/start" {
		if err := s.repo.ClearConversationState(ctx, accountID); err != nil {
			return err
		}

		text := fmt.Sprintf("👋 С возвращением, %s!\nБаланс: %d кредитов", acc.FirstName, acc.Balance)
		if created {
			text = fmt.Sprintf("🎉 Добро пожаловать в AI Video Studio!\nВам начислено %d кредитов. Хватит, чтобы сделать превью или видео.", s.opts.WelcomeBonus)
		}
		return s.sender.SendMessage(ctx, accountID, text, telegram.MainMenu())
	}

	st, err := s.activeState(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			return s.sender.SendMessage(ctx, accountID, "Используйте кнопки меню ниже 👇", telegram.MainMenu())
		}
		return err
	}

	return s.advanceWithMessage(ctx, acc, st, msg)
}

// activeState возвращает активный диалог, отбрасывая протухший.
func (s *Service) activeState(ctx context.Context, accountID int64) (*model.ConversationState, error) {
	st, err := s.repo.GetConversationState(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if time.Since(st.UpdatedAt) > s.opts.StateIdleTTL {
		if err := s.repo.ClearConversationState(ctx, accountID); err != nil {
			return nil, err
		}
		return nil, repository.ErrStateNotFound
	}

	return st, nil
}

// advanceWithMessage продвигает диалог по свободному текстовому вводу.
// Ввод, не соответствующий ожидаемому шагу, отклоняется повторным
// приглашением без изменения состояния.
func (s *Service) advanceWithMessage(ctx context.Context, acc *model.Account, st *model.ConversationState, msg *telegram.Message) error {
	accountID := acc.ID

	switch st.Step {
	case model.StepAwaitingPreviewPrompt, model.StepAwaitingVideoPrompt, model.StepAwaitingImagePrompt:
		if !validation.IsValidPrompt(msg.Text) {
			return s.sender.SendMessage(ctx, accountID, "✍️ Пришлите текстовое описание (до 1000 символов):", telegram.CancelKeyboard())
		}
		st.Prompt = strings.TrimSpace(msg.Text)

		if st.Step == model.StepAwaitingPreviewPrompt {
			return s.showConfirmation(ctx, acc, st, 0)
		}

		st.Step = model.StepAwaitingDuration
		if err := s.repo.SetConversationState(ctx, st); err != nil {
			return err
		}
		return s.sender.SendMessage(ctx, accountID, "⏱ Выберите длительность видео:", telegram.DurationKeyboard())

	case model.StepAwaitingImage:
		if len(msg.Photo) == 0 {
			return s.sender.SendMessage(ctx, accountID, "🖼 Пришлите фото, из которого сделать видео:", telegram.CancelKeyboard())
		}
		// Telegram присылает несколько размеров, последний — самый крупный.
		st.ImageRef = msg.Photo[len(msg.Photo)-1].FileID
		st.Step = model.StepAwaitingImagePrompt
		if err := s.repo.SetConversationState(ctx, st); err != nil {
			return err
		}
		return s.sender.SendMessage(ctx, accountID, "📝 Опишите, что должно происходить на видео:", telegram.CancelKeyboard())

	case model.StepAwaitingScene:
		if !validation.IsValidPrompt(msg.Text) {
			return s.sender.SendMessage(ctx, accountID, "✍️ Опишите сцену текстом (до 1000 символов):", telegram.SceneKeyboard())
		}

		st.Scenes = append(st.Scenes, strings.TrimSpace(msg.Text))
		if len(st.Scenes) >= validation.MaxScenes {
			return s.showConfirmation(ctx, acc, st, 0)
		}

		if err := s.repo.SetConversationState(ctx, st); err != nil {
			return err
		}
		return s.sender.SendMessage(ctx, accountID,
			fmt.Sprintf("✅ Сцена %d добавлена. Опишите следующую или нажмите «Готово».", len(st.Scenes)),
			telegram.SceneKeyboard())

	case model.StepAwaitingDuration:
		return s.sender.SendMessage(ctx, accountID, "⏱ Выберите длительность кнопкой:", telegram.DurationKeyboard())

	case model.StepAwaitingQuality:
		return s.sender.SendMessage(ctx, accountID, "🎞 Выберите качество кнопкой:", telegram.QualityKeyboard())

	case model.StepConfirm:
		return s.sender.SendMessage(ctx, accountID, "Подтвердите или отмените заказ кнопкой ниже 👇", telegram.ConfirmKeyboard())

	default:
		// Неизвестный шаг: состояние сбрасывается, пользователю показывается меню.
		if err := s.repo.ClearConversationState(ctx, accountID); err != nil {
			return err
		}
		return s.sender.SendMessage(ctx, accountID, "Используйте кнопки меню ниже 👇", telegram.MainMenu())
	}
}

// showConfirmation вычисляет стоимость заказа и показывает её пользователю.
// Средства не списываются до явного подтверждения. messageID != 0 означает
// редактирование существующего сообщения вместо отправки нового.
func (s *Service) showConfirmation(ctx context.Context, acc *model.Account, st *model.ConversationState, messageID int64) error {
	cost, err := OrderCost(st.OrderType, st.Duration, st.Quality, len(st.Scenes))
	if err != nil {
		return err
	}

	if acc.Balance < cost {
		if err := s.repo.ClearConversationState(ctx, acc.ID); err != nil {
			return err
		}
		text := fmt.Sprintf("❌ Недостаточно кредитов\n\nНужно: %d\nУ вас: %d", cost, acc.Balance)
		return s.deliverText(ctx, acc.ID, messageID, text, telegram.TopupKeyboard())
	}

	st.Step = model.StepConfirm
	if err := s.repo.SetConversationState(ctx, st); err != nil {
		return err
	}

	var details strings.Builder
	fmt.Fprintf(&details, "📋 Подтвердите заказ:\n\n")
	switch st.OrderType {
	case model.OrderTypePreview:
		fmt.Fprintf(&details, "🎨 Превью\n📝 Описание: %s\n", truncate(st.Prompt, 100))
	case model.OrderTypeStoryboard:
		fmt.Fprintf(&details, "📽 Storyboard, сцен: %d\n", len(st.Scenes))
	default:
		fmt.Fprintf(&details, "📝 Описание: %s\n⏱ Длительность: %dс\n🎞 Качество: %s\n", truncate(st.Prompt, 100), st.Duration, st.Quality)
	}
	fmt.Fprintf(&details, "\n💰 Стоимость: %d кредитов\n💵 Ваш баланс: %d кредитов", cost, acc.Balance)

	return s.deliverText(ctx, acc.ID, messageID, details.String(), telegram.ConfirmKeyboard())
}

func (s *Service) deliverText(ctx context.Context, chatID, messageID int64, text string, keyboard *telegram.InlineKeyboard) error {
	if messageID != 0 {
		return s.sender.EditMessageText(ctx, chatID, messageID, text, keyboard)
	}
	return s.sender.SendMessage(ctx, chatID, text, keyboard)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// HandleCallback обрабатывает нажатие на inline-кнопку.
func (s *Service) HandleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	accountID := cb.From.ID

	if !s.allow(ctx, accountID, model.ActionCallback) {
		return s.sender.AnswerCallback(ctx, cb.ID, "⚠️ Слишком много запросов")
	}

	acc, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return s.sender.AnswerCallback(ctx, cb.ID, "Пожалуйста, отправьте /start")
		}
		return err
	}

	if acc.Blocked {
		return s.sender.AnswerCallback(ctx, cb.ID, "Аккаунт заблокирован")
	}

	if err := s.repo.TouchActivity(ctx, accountID); err != nil {
		s.logger.Error("touch activity failed", zap.Int64("accountID", accountID), zap.Error(err))
	}

	var messageID int64
	if cb.Message != nil {
		messageID = cb.Message.MessageID
	}

	data := cb.Data

	switch {
	case data == telegram.CallbackMainBalance:
		balance, err := s.GetBalance(ctx, accountID)
		if err != nil {
			return err
		}
		if err := s.sender.EditMessageText(ctx, accountID, messageID,
			fmt.Sprintf("💰 Ваш баланс: %d кредитов", balance.Current), telegram.BalanceKeyboard()); err != nil {
			return err
		}
		return s.sender.AnswerCallback(ctx, cb.ID, "")

	case data == telegram.CallbackMainTopup:
		if err := s.sender.EditMessageText(ctx, accountID, messageID, "💳 Выберите пакет кредитов:", telegram.TopupKeyboard()); err != nil {
			return err
		}
		return s.sender.AnswerCallback(ctx, cb.ID, "")

	case data == telegram.CallbackMainCreate:
		if err := s.sender.EditMessageText(ctx, accountID, messageID, "🎬 Что создаём?", telegram.CreateKeyboard()); err != nil {
			return err
		}
		return s.sender.AnswerCallback(ctx, cb.ID, "")

	case data == telegram.CallbackMainHelp:
		if err := s.sender.EditMessageText(ctx, accountID, messageID, helpText, telegram.BackKeyboard()); err != nil {
			return err
		}
		return s.sender.AnswerCallback(ctx, cb.ID, "")

	case data == telegram.CallbackCreatePreview:
		return s.startFlow(ctx, cb, model.OrderTypePreview, model.StepAwaitingPreviewPrompt,
			"🎨 Опишите, что изобразить на превью:", "Напишите описание")

	case data == telegram.CallbackCreateTextVideo:
		return s.startFlow(ctx, cb, model.OrderTypeTextToVideo, model.StepAwaitingVideoPrompt,
			"📝 Опишите видео:", "Напишите описание")

	case data == telegram.CallbackCreateImageVideo:
		return s.startFlow(ctx, cb, model.OrderTypeImageToVideo, model.StepAwaitingImage,
			"🖼 Пришлите фото, из которого сделать видео:", "Пришлите фото")

	case data == telegram.CallbackCreateStoryboard:
		return s.startFlow(ctx, cb, model.OrderTypeStoryboard, model.StepAwaitingScene,
			"📽 Опишите первую сцену раскадровки:", "Опишите сцену")

	case data == telegram.CallbackStoryboardDone:
		return s.finishStoryboard(ctx, acc, cb, messageID)

	case strings.HasPrefix(data, telegram.CallbackTopupPrefix):
		return s.startTopup(ctx, cb, data, messageID)

	case strings.HasPrefix(data, telegram.CallbackDurationPrefix):
		return s.selectDuration(ctx, cb, data, messageID)

	case strings.HasPrefix(data, telegram.CallbackQualityPrefix):
		return s.selectQuality(ctx, acc, cb, data, messageID)

	case data == telegram.CallbackConfirm:
		return s.confirmOrder(ctx, acc, cb, messageID)

	case data == telegram.CallbackCancel:
		if err := s.repo.ClearConversationState(ctx, accountID); err != nil {
			return err
		}
		if err := s.sender.EditMessageText(ctx, accountID, messageID, "❌ Отменено", telegram.MainMenu()); err != nil {
			return err
		}
		return s.sender.AnswerCallback(ctx, cb.ID, "")

	case data == telegram.CallbackBack:
		if err := s.repo.ClearConversationState(ctx, accountID); err != nil {
			return err
		}
		if err := s.sender.EditMessageText(ctx, accountID, messageID, "Главное меню:", telegram.MainMenu()); err != nil {
			return err
		}
		return s.sender.AnswerCallback(ctx, cb.ID, "")

	default:
		return s.sender.AnswerCallback(ctx, cb.ID, "")
	}
}

// startFlow начинает новый диалог создания заказа. Активный диалог, если он
// есть, замещается: два потока для одного счёта не сосуществуют.
func (s *Service) startFlow(ctx context.Context, cb *telegram.CallbackQuery, orderType model.OrderType, step model.Step, prompt, answer string) error {
	accountID := cb.From.ID

	st := &model.ConversationState{
		AccountID: accountID,
		Step:      step,
		OrderType: orderType,
	}
	if err := s.repo.SetConversationState(ctx, st); err != nil {
		return err
	}

	var messageID int64
	if cb.Message != nil {
		messageID = cb.Message.MessageID
	}
	if err := s.sender.EditMessageText(ctx, accountID, messageID, prompt, telegram.CancelKeyboard()); err != nil {
		return err
	}
	return s.sender.AnswerCallback(ctx, cb.ID, answer)
}

func (s *Service) finishStoryboard(ctx context.Context, acc *model.Account, cb *telegram.CallbackQuery, messageID int64) error {
	st, err := s.activeState(ctx, acc.ID)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			return s.sender.AnswerCallback(ctx, cb.ID, "Начните заново: /start")
		}
		return err
	}

	if st.Step != model.StepAwaitingScene || len(st.Scenes) == 0 {
		return s.sender.AnswerCallback(ctx, cb.ID, "Сначала опишите хотя бы одну сцену")
	}

	if err := s.showConfirmation(ctx, acc, st, messageID); err != nil {
		return err
	}
	return s.sender.AnswerCallback(ctx, cb.ID, "")
}

func (s *Service) startTopup(ctx context.Context, cb *telegram.CallbackQuery, data string, messageID int64) error {
	accountID := cb.From.ID

	amount, err := strconv.ParseInt(strings.TrimPrefix(data, telegram.CallbackTopupPrefix), 10, 64)
	if err != nil || !validation.IsValidTopupAmount(amount) {
		return s.sender.AnswerCallback(ctx, cb.ID, "Неизвестный пакет")
	}

	if s.payments == nil {
		return s.sender.AnswerCallback(ctx, cb.ID, "Оплата картой временно недоступна")
	}

	p, err := s.payments.CreatePayment(ctx, accountID, amount)
	if err != nil {
		s.logger.Error("create payment failed",
			zap.Int64("accountID", accountID), zap.Int64("amount", amount), zap.Error(err))
		return s.sender.AnswerCallback(ctx, cb.ID, "Не удалось создать платёж, попробуйте позже")
	}

	text := fmt.Sprintf("💳 Оплата %d₽\n\nПерейдите по ссылке для оплаты:\n%s\n\nКредиты зачислятся автоматически после оплаты.", amount, p.ConfirmationURL)
	if err := s.sender.EditMessageText(ctx, accountID, messageID, text, telegram.BackKeyboard()); err != nil {
		return err
	}
	return s.sender.AnswerCallback(ctx, cb.ID, fmt.Sprintf("Оплата %d₽", amount))
}

func (s *Service) selectDuration(ctx context.Context, cb *telegram.CallbackQuery, data string, messageID int64) error {
	accountID := cb.From.ID

	st, err := s.activeState(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			return s.sender.AnswerCallback(ctx, cb.ID, "Начните заново: /start")
		}
		return err
	}

	if st.Step != model.StepAwaitingDuration {
		return s.sender.AnswerCallback(ctx, cb.ID, "Этот шаг уже пройден")
	}

	duration, err := strconv.Atoi(strings.TrimPrefix(data, telegram.CallbackDurationPrefix))
	if err != nil || !validation.IsValidDuration(duration) {
		return s.sender.AnswerCallback(ctx, cb.ID, "Неизвестная длительность")
	}

	st.Duration = duration
	st.Step = model.StepAwaitingQuality
	if err := s.repo.SetConversationState(ctx, st); err != nil {
		return err
	}

	if err := s.sender.EditMessageText(ctx, accountID, messageID,
		fmt.Sprintf("✅ Выбрана длительность: %dс\n\nВыберите качество:", duration), telegram.QualityKeyboard()); err != nil {
		return err
	}
	return s.sender.AnswerCallback(ctx, cb.ID, "")
}

func (s *Service) selectQuality(ctx context.Context, acc *model.Account, cb *telegram.CallbackQuery, data string, messageID int64) error {
	st, err := s.activeState(ctx, acc.ID)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			return s.sender.AnswerCallback(ctx, cb.ID, "Начните заново: /start")
		}
		return err
	}

	if st.Step != model.StepAwaitingQuality {
		return s.sender.AnswerCallback(ctx, cb.ID, "Этот шаг уже пройден")
	}

	quality := strings.TrimPrefix(data, telegram.CallbackQualityPrefix)
	if !validation.IsValidQuality(quality) {
		return s.sender.AnswerCallback(ctx, cb.ID, "Неизвестное качество")
	}

	st.Quality = model.Quality(quality)
	if err := s.showConfirmation(ctx, acc, st, messageID); err != nil {
		return err
	}
	return s.sender.AnswerCallback(ctx, cb.ID, "")
}

// confirmOrder создаёт заказ по подтверждённому диалогу.
func (s *Service) confirmOrder(ctx context.Context, acc *model.Account, cb *telegram.CallbackQuery, messageID int64) error {
	st, err := s.activeState(ctx, acc.ID)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			return s.sender.AnswerCallback(ctx, cb.ID, "Заказ не найден или уже обработан")
		}
		return err
	}

	if st.Step != model.StepConfirm {
		return s.sender.AnswerCallback(ctx, cb.ID, "Сначала завершите оформление")
	}

	o, err := s.CreateOrder(ctx, acc.ID, st)

	// Диалог завершён независимо от исхода заказа.
	if clearErr := s.repo.ClearConversationState(ctx, acc.ID); clearErr != nil {
		s.logger.Error("clear conversation state failed", zap.Int64("accountID", acc.ID), zap.Error(clearErr))
	}

	switch {
	case errors.Is(err, repository.ErrInsufficientFunds):
		if editErr := s.sender.EditMessageText(ctx, acc.ID, messageID, "❌ Недостаточно кредитов", telegram.TopupKeyboard()); editErr != nil {
			return editErr
		}
		return s.sender.AnswerCallback(ctx, cb.ID, "")

	case errors.Is(err, ErrSubmissionFailed):
		text := fmt.Sprintf("⚠️ Не удалось запустить генерацию.\n\n💰 Возвращено %d кредитов на баланс.", o.Cost)
		if editErr := s.sender.EditMessageText(ctx, acc.ID, messageID, text, telegram.MainMenu()); editErr != nil {
			return editErr
		}
		return s.sender.AnswerCallback(ctx, cb.ID, "")

	case err != nil:
		return err
	}

	text := fmt.Sprintf("✅ Заказ #%d создан!\n⏳ Генерация займёт несколько минут...", o.ID)
	if editErr := s.sender.EditMessageText(ctx, acc.ID, messageID, text, telegram.MainMenu()); editErr != nil {
		return editErr
	}
	return s.sender.AnswerCallback(ctx, cb.ID, "")
}

// HandlePreCheckout отвечает на предварительный запрос оплаты Telegram.
// Для заблокированного счёта платёж отклоняется, остальные подтверждаются.
func (s *Service) HandlePreCheckout(ctx context.Context, q *telegram.PreCheckoutQuery) error {
	acc, err := s.repo.GetAccount(ctx, q.From.ID)
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return err
	}

	if acc != nil && acc.Blocked {
		return s.sender.AnswerPreCheckout(ctx, q.ID, false, "Аккаунт заблокирован")
	}
	return s.sender.AnswerPreCheckout(ctx, q.ID, true, "")
}

// applyTelegramPayment зачисляет платёж, проведённый через Telegram Payments.
func (s *Service) applyTelegramPayment(ctx context.Context, accountID int64, p *telegram.SuccessfulPayment) error {
	var credits int64
	if p.Currency == "XTR" {
		credits = int64(float64(p.TotalAmount) * s.opts.StarsRate)
	} else {
		// Сумма приходит в минорных единицах валюты.
		credits = p.TotalAmount / 100
	}

	_, err := s.ApplyPayment(ctx, p.TelegramPaymentChargeID, accountID, credits)
	return err
}
