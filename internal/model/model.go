// Package model содержит доменные сущности сервиса генерации видео.
package model

import "time"

// Account представляет счёт пользователя бота с балансом в кредитах.
type Account struct {
	ID           int64
	Username     string
	FirstName    string
	Balance      int64
	Blocked      bool
	CreatedAt    time.Time
	LastActivity time.Time
}

// EntryKind описывает тип записи в журнале операций по счёту.
type EntryKind string

const (
	EntryKindWelcomeBonus    EntryKind = "welcome_bonus"
	EntryKindPurchase        EntryKind = "purchase"
	EntryKindDebitHold       EntryKind = "debit_hold"
	EntryKindRefund          EntryKind = "refund"
	EntryKindAdminAdjustment EntryKind = "admin_adjustment"
)

// LedgerEntry описывает неизменяемую запись журнала операций.
// Положительная сумма — начисление, отрицательная — списание.
type LedgerEntry struct {
	ID                int64
	AccountID         int64
	Amount            int64
	Kind              EntryKind
	Description       string
	ExternalPaymentID *string
	OrderID           *int64
	CreatedAt         time.Time
}

// OrderStatus описывает статус обработки заказа на генерацию.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
)

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// OrderType описывает тип генерации.
type OrderType string

const (
	OrderTypePreview      OrderType = "preview"
	OrderTypeTextToVideo  OrderType = "text-to-video"
	OrderTypeImageToVideo OrderType = "image-to-video"
	OrderTypeStoryboard   OrderType = "storyboard"
)

// Quality описывает качество генерируемого видео.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// Order описывает заказ на генерацию и его жизненный цикл.
type Order struct {
	ID              int64
	AccountID       int64
	Type            OrderType
	Prompt          string
	ImageRef        string
	Duration        int
	Quality         Quality
	Scenes          []string
	Cost            int64
	Status          OrderStatus
	ExternalJobID   *string
	ResultRef       *string
	ResultDelivered bool
	RetryCount      int
	ErrorMessage    *string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// Step описывает шаг диалога создания заказа.
type Step string

const (
	StepAwaitingPreviewPrompt Step = "awaiting_preview_prompt"
	StepAwaitingVideoPrompt   Step = "awaiting_video_prompt"
	StepAwaitingImage         Step = "awaiting_image"
	StepAwaitingImagePrompt   Step = "awaiting_image_prompt"
	StepAwaitingDuration      Step = "awaiting_duration"
	StepAwaitingQuality       Step = "awaiting_quality"
	StepAwaitingScene         Step = "awaiting_scene"
	StepConfirm               Step = "confirm"
)

// ConversationState хранит текущий шаг диалога и накопленные ответы пользователя.
type ConversationState struct {
	AccountID int64
	Step      Step
	OrderType OrderType
	Prompt    string
	ImageRef  string
	Duration  int
	Quality   Quality
	Scenes    []string
	UpdatedAt time.Time
}

// ActionType описывает тип действия пользователя для ограничения частоты.
type ActionType string

const (
	ActionMessage  ActionType = "message"
	ActionCallback ActionType = "callback"
)

// Balance содержит текущий баланс счёта и сумму всех списаний.
type Balance struct {
	Current   int64 `json:"current"`
	Withdrawn int64 `json:"withdrawn"`
}
