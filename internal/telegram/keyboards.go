package telegram

import "fmt"

// Значения callback_data, которые понимает бот.
const (
	CallbackMainBalance      = "main_balance"
	CallbackMainTopup        = "main_topup"
	CallbackMainCreate       = "main_create"
	CallbackMainHelp         = "main_help"
	CallbackCreatePreview    = "create_preview"
	CallbackCreateTextVideo  = "create_textvideo"
	CallbackCreateImageVideo = "create_imagevideo"
	CallbackCreateStoryboard = "create_storyboard"
	CallbackStoryboardDone   = "storyboard_done"
	CallbackConfirm          = "confirm"
	CallbackCancel           = "cancel"
	CallbackBack             = "back"

	CallbackTopupPrefix    = "topup_"
	CallbackDurationPrefix = "duration_"
	CallbackQualityPrefix  = "quality_"
)

// InlineButton описывает одну inline-кнопку.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboard описывает inline-клавиатуру сообщения.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

// MainMenu возвращает главное меню бота.
func MainMenu() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "🎬 Создать видео", CallbackData: CallbackMainCreate}},
		{
			{Text: "💰 Баланс", CallbackData: CallbackMainBalance},
			{Text: "➕ Пополнить", CallbackData: CallbackMainTopup},
		},
		{{Text: "ℹ️ Помощь", CallbackData: CallbackMainHelp}},
	}}
}

// BalanceKeyboard возвращает клавиатуру экрана баланса.
func BalanceKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "➕ Пополнить", CallbackData: CallbackMainTopup}},
		{{Text: "🎬 Создать видео", CallbackData: CallbackMainCreate}},
		{{Text: "◀️ Назад", CallbackData: CallbackBack}},
	}}
}

// TopupKeyboard возвращает клавиатуру выбора пакета кредитов.
func TopupKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{
			{Text: "200₽", CallbackData: CallbackTopupPrefix + "200"},
			{Text: "500₽", CallbackData: CallbackTopupPrefix + "500"},
		},
		{
			{Text: "1000₽", CallbackData: CallbackTopupPrefix + "1000"},
			{Text: "2000₽", CallbackData: CallbackTopupPrefix + "2000"},
		},
		{{Text: "◀️ Назад", CallbackData: CallbackBack}},
	}}
}

// CreateKeyboard возвращает клавиатуру выбора типа генерации.
func CreateKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "🎨 Превью (30₽)", CallbackData: CallbackCreatePreview}},
		{{Text: "🎥 Видео из текста", CallbackData: CallbackCreateTextVideo}},
		{{Text: "🖼 Видео из фото", CallbackData: CallbackCreateImageVideo}},
		{{Text: "📽 Storyboard", CallbackData: CallbackCreateStoryboard}},
		{{Text: "◀️ Назад", CallbackData: CallbackBack}},
	}}
}

// DurationKeyboard возвращает клавиатуру выбора длительности видео.
func DurationKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "5 сек (от 180₽)", CallbackData: CallbackDurationPrefix + "5"}},
		{{Text: "10 сек (от 400₽)", CallbackData: CallbackDurationPrefix + "10"}},
		{{Text: "15 сек (от 600₽)", CallbackData: CallbackDurationPrefix + "15"}},
		{{Text: "❌ Отменить", CallbackData: CallbackCancel}},
	}}
}

// QualityKeyboard возвращает клавиатуру выбора качества видео.
func QualityKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "📺 Standard", CallbackData: CallbackQualityPrefix + "standard"}},
		{{Text: "🎬 High (+200₽)", CallbackData: CallbackQualityPrefix + "high"}},
		{{Text: "❌ Отменить", CallbackData: CallbackCancel}},
	}}
}

// SceneKeyboard возвращает клавиатуру шага добавления сцен раскадровки.
func SceneKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "✅ Готово", CallbackData: CallbackStoryboardDone}},
		{{Text: "❌ Отменить", CallbackData: CallbackCancel}},
	}}
}

// ConfirmKeyboard возвращает клавиатуру подтверждения заказа.
func ConfirmKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "✅ Подтвердить", CallbackData: CallbackConfirm}},
		{{Text: "❌ Отменить", CallbackData: CallbackCancel}},
	}}
}

// CancelKeyboard возвращает клавиатуру с единственной кнопкой отмены.
func CancelKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "❌ Отменить", CallbackData: CallbackCancel}},
	}}
}

// BackKeyboard возвращает клавиатуру возврата в главное меню.
func BackKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{{Text: "◀️ Назад", CallbackData: CallbackBack}},
	}}
}

// TopupCallback возвращает callback_data пополнения на указанную сумму.
func TopupCallback(amount int64) string {
	return fmt.Sprintf("%s%d", CallbackTopupPrefix, amount)
}
