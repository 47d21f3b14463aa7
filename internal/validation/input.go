// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxPromptLength ограничивает длину описания генерации.
	MaxPromptLength = 1000
	// MaxScenes ограничивает число сцен в раскадровке.
	MaxScenes = 5
)

// IsValidPrompt проверяет, что описание непустое и не превышает допустимую длину.
func IsValidPrompt(prompt string) bool {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return false
	}
	return utf8.RuneCountInString(prompt) <= MaxPromptLength
}

// IsValidDuration проверяет, что длительность видео входит в список допустимых.
func IsValidDuration(seconds int) bool {
	switch seconds {
	case 5, 10, 15:
		return true
	}
	return false
}

// IsValidQuality проверяет значение качества видео.
func IsValidQuality(quality string) bool {
	return quality == "standard" || quality == "high"
}

// IsValidTopupAmount проверяет, что сумма пополнения соответствует одному из пакетов.
func IsValidTopupAmount(amount int64) bool {
	switch amount {
	case 200, 500, 1000, 2000:
		return true
	}
	return false
}
