package service

import (
	"errors"

	"github.com/mmeshcher/videobot-system/internal/model"
)

// ErrUnknownPrice возвращается, если для параметров заказа нет цены в прайс-листе.
var ErrUnknownPrice = errors.New("no price for order parameters")

const (
	previewCost = 30

	// Надбавка за генерацию по исходному изображению.
	imageToVideoSurcharge = 50

	// Длительность одной сцены раскадровки в секундах.
	sceneSeconds = 5
)

func videoCost(duration int, quality model.Quality) (int64, bool) {
	type key struct {
		duration int
		quality  model.Quality
	}

	prices := map[key]int64{
		{5, model.QualityStandard}:  180,
		{10, model.QualityStandard}: 400,
		{15, model.QualityStandard}: 600,
		{5, model.QualityHigh}:      380,
		{10, model.QualityHigh}:     600,
		{15, model.QualityHigh}:     800,
	}

	cost, ok := prices[key{duration, quality}]
	return cost, ok
}

func storyboardCost(sceneCount int) (int64, bool) {
	if sceneCount < 1 {
		return 0, false
	}

	// Тарифицируется ближайший тариф, покрывающий суммарную длительность сцен.
	total := sceneCount * sceneSeconds
	switch {
	case total <= 10:
		return 180, true
	case total <= 15:
		return 400, true
	case total <= 25:
		return 510, true
	}
	return 0, false
}

// OrderCost вычисляет стоимость заказа по фиксированному прайс-листу.
// Стоимость фиксируется в момент создания заказа и больше не пересчитывается.
func OrderCost(orderType model.OrderType, duration int, quality model.Quality, sceneCount int) (int64, error) {
	switch orderType {
	case model.OrderTypePreview:
		return previewCost, nil

	case model.OrderTypeTextToVideo:
		if cost, ok := videoCost(duration, quality); ok {
			return cost, nil
		}

	case model.OrderTypeImageToVideo:
		if cost, ok := videoCost(duration, quality); ok {
			return cost + imageToVideoSurcharge, nil
		}

	case model.OrderTypeStoryboard:
		if cost, ok := storyboardCost(sceneCount); ok {
			return cost, nil
		}
	}

	return 0, ErrUnknownPrice
}
