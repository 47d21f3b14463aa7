package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Заголовок, которым Telegram подписывает запросы к webhook.
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramAuth проверяет секретный токен, установленный при регистрации
// webhook. Пустой токен отключает проверку.
func TelegramAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(telegramSecretHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuth проверяет bearer-токен администратора.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
