// Package progression рассчитывает начисления, уровни и достижения за сданное устройство.
//
// Пакет не выполняет ввода-вывода: Apply получает снимок учётной записи и
// возвращает новое состояние, которое сохраняет слой хранения.
package progression

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

// ErrInvalidSubmission возвращается для заявки с отсутствующими или неположительными полями.
var ErrInvalidSubmission = errors.New("invalid submission")

const (
	// DevicesPerLevel задаёт число устройств на один уровень.
	DevicesPerLevel = 5
	// LevelUpBonus начисляется однократно при повышении уровня.
	LevelUpBonus int64 = 50
)

// Stats содержит снимок накопленной статистики, по которому проверяются достижения.
type Stats struct {
	Coins           int64
	Level           int
	DevicesRecycled int64
	TotalValue      float64
	CO2Saved        float64
}

// Rule связывает достижение с условием его получения.
type Rule struct {
	Badge     model.Badge
	Satisfied func(Stats) bool
}

// Rules перечисляет достижения в порядке проверки.
var Rules = []Rule{
	{model.BadgeFirstRecycle, func(s Stats) bool { return s.DevicesRecycled >= 1 }},
	{model.BadgeEcoWarrior, func(s Stats) bool { return s.DevicesRecycled >= 10 }},
	{model.BadgeGreenChampion, func(s Stats) bool { return s.DevicesRecycled >= 50 }},
	{model.BadgeDeviceExpert, func(s Stats) bool { return s.DevicesRecycled >= 100 }},
	{model.BadgeSustainabilityMaster, func(s Stats) bool { return s.DevicesRecycled >= 200 }},
	{model.BadgeCarbonSaver, func(s Stats) bool { return s.CO2Saved >= 100 }},
	{model.BadgeTechRecycler, func(s Stats) bool { return s.Coins >= 10000 }},
	{model.BadgeEnvironmentalHero, func(s Stats) bool { return s.Level >= 20 }},
	{model.BadgeGreenInnovator, func(s Stats) bool { return s.TotalValue >= 1000 }},
	{model.BadgePlanetProtector, func(s Stats) bool { return s.DevicesRecycled >= 500 }},
}

// KnownBadge сообщает, входит ли идентификатор в каталог достижений.
func KnownBadge(b model.Badge) bool {
	for _, r := range Rules {
		if r.Badge == b {
			return true
		}
	}
	return false
}

// Result содержит новое состояние учётной записи и созданное событие.
type Result struct {
	Account   model.Account
	Event     model.RecyclingEvent
	NewBadges []model.Badge
}

// LevelFor вычисляет уровень по числу сданных устройств.
func LevelFor(devicesRecycled int64) int {
	if devicesRecycled < 0 {
		devicesRecycled = 0
	}
	return int(devicesRecycled/DevicesPerLevel) + 1
}

// Validate проверяет заявку.
func Validate(s model.Submission) error {
	switch {
	case s.DeviceType == "":
		return fmt.Errorf("%w: device type is required", ErrInvalidSubmission)
	case !s.DeviceType.Valid():
		return fmt.Errorf("%w: unknown device type %q", ErrInvalidSubmission, s.DeviceType)
	case s.Condition == "":
		return fmt.Errorf("%w: condition is required", ErrInvalidSubmission)
	case !s.Condition.Valid():
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidSubmission, s.Condition)
	case s.CoinsReward <= 0:
		return fmt.Errorf("%w: coins reward must be positive", ErrInvalidSubmission)
	case s.EstimatedValue < 0 || math.IsNaN(s.EstimatedValue) || math.IsInf(s.EstimatedValue, 0):
		return fmt.Errorf("%w: estimated value must be non-negative", ErrInvalidSubmission)
	case s.CO2Saved < 0 || math.IsNaN(s.CO2Saved) || math.IsInf(s.CO2Saved, 0):
		return fmt.Errorf("%w: co2 saved must be non-negative", ErrInvalidSubmission)
	}
	return nil
}

// Apply применяет заявку к снимку учётной записи.
// Исходная учётная запись не изменяется; Version не меняется, его увеличивает хранилище.
func Apply(acc model.Account, sub model.Submission, now time.Time) (Result, error) {
	if err := Validate(sub); err != nil {
		return Result{}, err
	}

	next := acc
	next.Coins = acc.Coins + sub.CoinsReward
	next.DevicesRecycled = acc.DevicesRecycled + 1
	next.TotalValue = acc.TotalValue + sub.EstimatedValue
	next.CO2Saved = acc.CO2Saved + sub.CO2Saved

	event := model.RecyclingEvent{
		ID:             EventID(now, next.DevicesRecycled),
		DeviceType:     sub.DeviceType,
		Condition:      sub.Condition,
		CoinsEarned:    sub.CoinsReward,
		EstimatedValue: sub.EstimatedValue,
		CO2Saved:       sub.CO2Saved,
		Location:       sub.Location,
		ImageURL:       sub.ImageURL,
		Timestamp:      now,
	}
	if event.Location == "" {
		event.Location = "Unknown"
	}

	oldLevel := acc.Level
	if oldLevel < 1 {
		oldLevel = 1
	}
	next.Level = oldLevel
	if candidate := LevelFor(next.DevicesRecycled); candidate > oldLevel {
		next.Level = candidate
		next.Coins += LevelUpBonus
		bonus := LevelUpBonus
		event.LevelUpBonus = &bonus
		event.CoinsEarned += LevelUpBonus
	}

	newBadges := Unlocked(acc.Badges, Stats{
		Coins:           next.Coins,
		Level:           next.Level,
		DevicesRecycled: next.DevicesRecycled,
		TotalValue:      next.TotalValue,
		CO2Saved:        next.CO2Saved,
	})

	next.Badges = append(slices.Clone(acc.Badges), newBadges...)
	next.History = append(slices.Clone(acc.History), event)
	next.LastActivity = now

	return Result{Account: next, Event: event, NewBadges: newBadges}, nil
}

// EventID строит идентификатор события из времени и порядкового номера устройства.
// Номер уникален в пределах учётной записи, поэтому идентификаторы упорядочены по времени.
func EventID(at time.Time, seq int64) string {
	return fmt.Sprintf("%013d-%06d", at.UnixMilli(), seq)
}

// Unlocked возвращает достижения, условия которых выполнены для stats, но которых ещё нет в have.
// Порядок совпадает с порядком Rules.
func Unlocked(have []model.Badge, stats Stats) []model.Badge {
	var out []model.Badge
	for _, r := range Rules {
		if r.Satisfied(stats) && !slices.Contains(have, r.Badge) {
			out = append(out, r.Badge)
		}
	}
	return out
}

// LevelProgress описывает прогресс до следующего уровня.
type LevelProgress struct {
	Current    int64   `json:"current"`
	Needed     int64   `json:"needed"`
	Percentage float64 `json:"percentage"`
}

// NextLevelProgress вычисляет прогресс до следующего уровня.
func NextLevelProgress(devicesRecycled int64) LevelProgress {
	if devicesRecycled < 0 {
		devicesRecycled = 0
	}
	current := devicesRecycled % DevicesPerLevel
	return LevelProgress{
		Current:    current,
		Needed:     DevicesPerLevel,
		Percentage: math.Min(100, float64(current)*100/DevicesPerLevel),
	}
}
