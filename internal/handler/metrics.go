package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videobot_telegram_updates_total",
		Help: "Количество обработанных обновлений Telegram по типу.",
	}, []string{"type"})

	paymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videobot_payment_events_total",
		Help: "Количество уведомлений платёжной системы по событию.",
	}, []string{"event"})

	providerCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videobot_provider_callbacks_total",
		Help: "Количество уведомлений систем генерации по статусу.",
	}, []string{"status"})

	webhookErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videobot_webhook_errors_total",
		Help: "Количество ошибок обработки входящих webhook по источнику.",
	}, []string{"source"})
)
