// Package classifier угадывает тип и состояние устройства по имени файла или подписи.
package classifier

import (
	"context"
	"math/rand"
	"strings"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

// Recognition содержит результат распознавания устройства.
type Recognition struct {
	DeviceType model.DeviceType `json:"deviceType"`
	Confidence float64          `json:"confidence"`
}

// Strategy задаёт сменяемую стратегию распознавания.
type Strategy interface {
	Classify(ctx context.Context, label string) (Recognition, error)
}

// RandSource выдаёт случайные числа в диапазоне [0, 1).
type RandSource interface {
	Float64() float64
}

type rule struct {
	keywords   []string
	deviceType model.DeviceType
	confidence float64
}

var rules = []rule{
	{keywords: []string{"phone", "mobile", "iphone", "samsung"}, deviceType: model.DeviceSmartphone, confidence: 0.85},
	{keywords: []string{"laptop", "computer", "macbook", "dell"}, deviceType: model.DeviceLaptop, confidence: 0.90},
	{keywords: []string{"tablet", "ipad"}, deviceType: model.DeviceTablet, confidence: 0.88},
	{keywords: []string{"charger", "cable", "adapter"}, deviceType: model.DeviceCharger, confidence: 0.92},
	{keywords: []string{"headphone", "earphone", "airpod"}, deviceType: model.DeviceHeadphones, confidence: 0.87},
	{keywords: []string{"watch"}, deviceType: model.DeviceSmartwatch, confidence: 0.89},
}

var fallback = Recognition{DeviceType: model.DeviceSmartphone, Confidence: 0.75}

var conditionWeights = []struct {
	condition model.Condition
	weight    float64
}{
	{model.ConditionExcellent, 0.3},
	{model.ConditionGood, 0.5},
	{model.ConditionFair, 0.2},
}

// Keyword распознаёт устройство по ключевым словам в подписи.
type Keyword struct {
	rnd RandSource
}

// NewKeyword создаёт классификатор. При rnd == nil используется math/rand.
func NewKeyword(rnd RandSource) *Keyword {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Keyword{rnd: rnd}
}

// Classify реализует Strategy и никогда не возвращает ошибку.
func (k *Keyword) Classify(_ context.Context, label string) (Recognition, error) {
	return ClassifyLabel(label), nil
}

// ClassifyLabel ищет первое правило, ключевое слово которого входит в подпись.
func ClassifyLabel(label string) Recognition {
	name := strings.ToLower(label)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(name, kw) {
				return Recognition{DeviceType: r.deviceType, Confidence: r.confidence}
			}
		}
	}
	return fallback
}

// ConditionFor выбирает состояние устройства по фиксированному распределению.
func (k *Keyword) ConditionFor(_ model.DeviceType) model.Condition {
	x := k.rnd.Float64()
	cumulative := 0.0
	for _, cw := range conditionWeights {
		cumulative += cw.weight
		if x <= cumulative {
			return cw.condition
		}
	}
	return model.ConditionGood
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
