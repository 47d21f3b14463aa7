package telegram

// Update описывает входящее обновление Telegram Bot API.
type Update struct {
	UpdateID         int64             `json:"update_id"`
	Message          *Message          `json:"message,omitempty"`
	CallbackQuery    *CallbackQuery    `json:"callback_query,omitempty"`
	PreCheckoutQuery *PreCheckoutQuery `json:"pre_checkout_query,omitempty"`
}

// User описывает пользователя Telegram.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// PhotoSize описывает один размер присланного фото.
type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SuccessfulPayment описывает завершённый платёж через Telegram Payments.
type SuccessfulPayment struct {
	Currency                string `json:"currency"`
	TotalAmount             int64  `json:"total_amount"`
	TelegramPaymentChargeID string `json:"telegram_payment_charge_id"`
}

// Message описывает входящее сообщение.
type Message struct {
	MessageID         int64              `json:"message_id"`
	From              User               `json:"from"`
	Text              string             `json:"text,omitempty"`
	Photo             []PhotoSize        `json:"photo,omitempty"`
	SuccessfulPayment *SuccessfulPayment `json:"successful_payment,omitempty"`
}

// CallbackQuery описывает нажатие на inline-кнопку.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// PreCheckoutQuery описывает предварительный запрос подтверждения оплаты.
type PreCheckoutQuery struct {
	ID          string `json:"id"`
	From        User   `json:"from"`
	Currency    string `json:"currency"`
	TotalAmount int64  `json:"total_amount"`
}
