// Package model содержит доменные сущности сервиса вознаграждений за переработку техники.
package model

import "time"

// DeviceType описывает тип сдаваемого устройства.
type DeviceType string

const (
	DeviceSmartphone DeviceType = "smartphone"
	DeviceLaptop     DeviceType = "laptop"
	DeviceTablet     DeviceType = "tablet"
	DeviceCharger    DeviceType = "charger"
	DeviceHeadphones DeviceType = "headphones"
	DeviceSmartwatch DeviceType = "smartwatch"
	DeviceOther      DeviceType = "other"
)

// DeviceTypes перечисляет все допустимые типы устройств.
var DeviceTypes = []DeviceType{
	DeviceSmartphone,
	DeviceLaptop,
	DeviceTablet,
	DeviceCharger,
	DeviceHeadphones,
	DeviceSmartwatch,
	DeviceOther,
}

// Valid сообщает, входит ли тип устройства в закрытый перечень.
func (d DeviceType) Valid() bool {
	for _, t := range DeviceTypes {
		if t == d {
			return true
		}
	}
	return false
}

// Condition описывает состояние сдаваемого устройства.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

// Valid сообщает, входит ли состояние в закрытый перечень.
func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

// Badge идентифицирует достижение.
type Badge string

const (
	BadgeFirstRecycle         Badge = "First Recycle"
	BadgeEcoWarrior           Badge = "Eco Warrior"
	BadgeGreenChampion        Badge = "Green Champion"
	BadgeDeviceExpert         Badge = "Device Expert"
	BadgeSustainabilityMaster Badge = "Sustainability Master"
	BadgeCarbonSaver          Badge = "Carbon Saver"
	BadgeTechRecycler         Badge = "Tech Recycler"
	BadgeEnvironmentalHero    Badge = "Environmental Hero"
	BadgeGreenInnovator       Badge = "Green Innovator"
	BadgePlanetProtector      Badge = "Planet Protector"
)

// Preferences хранит пользовательские настройки. Ядро их не интерпретирует.
type Preferences struct {
	Notifications bool           `json:"notifications"`
	EmailUpdates  bool           `json:"emailUpdates"`
	PublicProfile bool           `json:"publicProfile"`
	Language      string         `json:"language"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// DefaultPreferences возвращает настройки нового пользователя.
func DefaultPreferences() Preferences {
	return Preferences{
		Notifications: true,
		EmailUpdates:  true,
		PublicProfile: false,
		Language:      "en",
	}
}

// Profile содержит необязательные сведения о пользователе.
type Profile struct {
	Avatar             string     `json:"avatar,omitempty"`
	Location           string     `json:"location,omitempty"`
	Bio                string     `json:"bio,omitempty"`
	FavoriteDeviceType DeviceType `json:"favoriteDeviceType,omitempty"`
	JoinedDate         time.Time  `json:"joinedDate"`
}

// Account описывает учётную запись пользователя с накопленной статистикой.
type Account struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    []byte
	Coins           int64
	Level           int
	DevicesRecycled int64
	TotalValue      float64
	CO2Saved        float64
	Badges          []Badge
	History         []RecyclingEvent
	Preferences     Preferences
	Profile         Profile
	Version         int64
	CreatedAt       time.Time
	LastLogin       time.Time
	LastActivity    time.Time
}

// HasBadge сообщает, есть ли у пользователя указанное достижение.
func (a *Account) HasBadge(b Badge) bool {
	for _, have := range a.Badges {
		if have == b {
			return true
		}
	}
	return false
}

// RecyclingEvent хранит неизменяемую запись об одной сданной единице техники.
type RecyclingEvent struct {
	ID             string     `json:"id"`
	DeviceType     DeviceType `json:"deviceType"`
	Condition      Condition  `json:"condition"`
	CoinsEarned    int64      `json:"coinsEarned"`
	EstimatedValue float64    `json:"estimatedValue"`
	CO2Saved       float64    `json:"co2Saved"`
	Location       string     `json:"location"`
	ImageURL       string     `json:"imageUrl,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	LevelUpBonus   *int64     `json:"levelUpBonus,omitempty"`
}

// Submission описывает заявку на переработку, уже сопоставленную с каталогом устройств.
type Submission struct {
	DeviceType     DeviceType
	Condition      Condition
	CoinsReward    int64
	EstimatedValue float64
	CO2Saved       float64
	Location       string
	ImageURL       string
}

// Impact описывает экологический эффект от переработки устройства.
type Impact struct {
	CO2Kg     float64 `json:"co2" yaml:"co2"`
	EnergyKWh float64 `json:"energy" yaml:"energy"`
	WasteKg   float64 `json:"waste" yaml:"waste"`
}

// Metric задаёт показатель, по которому строится рейтинг.
type Metric string

const (
	MetricCoins           Metric = "coins"
	MetricDevicesRecycled Metric = "devicesRecycled"
	MetricLevel           Metric = "level"
	MetricTotalValue      Metric = "totalValue"
)

// Value возвращает значение показателя для учётной записи.
func (m Metric) Value(a *Account) float64 {
	switch m {
	case MetricDevicesRecycled:
		return float64(a.DevicesRecycled)
	case MetricLevel:
		return float64(a.Level)
	case MetricTotalValue:
		return a.TotalValue
	default:
		return float64(a.Coins)
	}
}

// RankInfo описывает место пользователя в рейтинге.
type RankInfo struct {
	Rank       int `json:"rank"`
	TotalUsers int `json:"totalUsers"`
	Percentile int `json:"percentile"`
}

// PlatformStats содержит агрегированные показатели по всем пользователям.
type PlatformStats struct {
	TotalUsers           int     `json:"totalUsers"`
	TotalCoins           int64   `json:"totalCoins"`
	TotalDevicesRecycled int64   `json:"totalDevicesRecycled"`
	TotalValue           float64 `json:"totalValue"`
	TotalCO2Saved        float64 `json:"totalCO2Saved"`
}
