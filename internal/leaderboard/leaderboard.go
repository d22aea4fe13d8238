// Package leaderboard строит рейтинги пользователей и агрегированную статистику платформы.
package leaderboard

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

// ErrUnknownMetric возвращается для показателя вне допустимого перечня.
var ErrUnknownMetric = errors.New("unknown leaderboard metric")

const (
	// DefaultLimit задаёт размер рейтинга по умолчанию.
	DefaultLimit = 10
	// MaxLimit ограничивает размер рейтинга.
	MaxLimit = 100
)

// Entry описывает строку рейтинга.
type Entry struct {
	Rank            int     `json:"rank"`
	Name            string  `json:"name"`
	Coins           int64   `json:"coins"`
	Level           int     `json:"level"`
	DevicesRecycled int64   `json:"devicesRecycled"`
	Badges          int     `json:"badges"`
	TotalValue      float64 `json:"totalValue"`
}

// ParseMetric разбирает название показателя. Пустая строка означает coins.
func ParseMetric(s string) (model.Metric, error) {
	switch model.Metric(s) {
	case "":
		return model.MetricCoins, nil
	case model.MetricCoins, model.MetricDevicesRecycled, model.MetricLevel, model.MetricTotalValue:
		return model.Metric(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// NormalizeLimit приводит размер рейтинга к допустимому диапазону.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Top возвращает первые limit учётных записей по убыванию показателя.
// accounts должны идти в порядке создания: при равенстве сохраняется этот порядок.
func Top(accounts []model.Account, metric model.Metric, limit int) []Entry {
	ordered := make([]*model.Account, len(accounts))
	for i := range accounts {
		ordered[i] = &accounts[i]
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return metric.Value(ordered[i]) > metric.Value(ordered[j])
	})

	limit = NormalizeLimit(limit)
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	out := make([]Entry, 0, len(ordered))
	for i, a := range ordered {
		out = append(out, Entry{
			Rank:            i + 1,
			Name:            a.Name,
			Coins:           a.Coins,
			Level:           a.Level,
			DevicesRecycled: a.DevicesRecycled,
			Badges:          len(a.Badges),
			TotalValue:      a.TotalValue,
		})
	}
	return out
}

// Rank вычисляет место учётной записи: 1 + число записей со строго большим показателем.
// ok == false, если id не найден.
func Rank(accounts []model.Account, id string, metric model.Metric) (model.RankInfo, bool) {
	var target *model.Account
	for i := range accounts {
		if accounts[i].ID == id {
			target = &accounts[i]
			break
		}
	}
	if target == nil {
		return model.RankInfo{}, false
	}

	value := metric.Value(target)
	greater := 0
	for i := range accounts {
		if metric.Value(&accounts[i]) > value {
			greater++
		}
	}

	return NewRankInfo(greater+1, len(accounts)), true
}

// NewRankInfo заполняет RankInfo и вычисляет процентиль.
func NewRankInfo(rank, total int) model.RankInfo {
	info := model.RankInfo{Rank: rank, TotalUsers: total}
	if total > 0 {
		info.Percentile = int(math.Round((1 - float64(rank)/float64(total)) * 100))
	}
	return info
}

// PlatformStats суммирует показатели всех учётных записей.
func PlatformStats(accounts []model.Account) model.PlatformStats {
	var s model.PlatformStats
	for i := range accounts {
		a := &accounts[i]
		s.TotalUsers++
		s.TotalCoins += a.Coins
		s.TotalDevicesRecycled += a.DevicesRecycled
		s.TotalValue += a.TotalValue
		s.TotalCO2Saved += a.CO2Saved
	}
	return s
}
