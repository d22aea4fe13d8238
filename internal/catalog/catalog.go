// Package catalog содержит справочник вознаграждений и экологического эффекта по типам устройств.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

// ErrUnknownDeviceType возвращается для типа устройства вне закрытого перечня.
var ErrUnknownDeviceType = errors.New("unknown device type")

// DefaultCondition используется, когда для состояния нет строки в справочнике.
const DefaultCondition = model.ConditionFair

// Reward содержит начисление и оценочную стоимость устройства.
type Reward struct {
	Coins          int64   `json:"coinsReward" yaml:"coins"`
	EstimatedValue float64 `json:"estimatedValue" yaml:"value"`
}

type entry struct {
	Rewards map[model.Condition]Reward `yaml:"rewards"`
	Impact  model.Impact               `yaml:"impact"`
}

// Catalog описывает справочник устройств. После создания не изменяется.
type Catalog struct {
	entries map[model.DeviceType]entry
}

// Default возвращает встроенный справочник.
func Default() *Catalog {
	smartphone := entry{
		Rewards: map[model.Condition]Reward{
			model.ConditionExcellent: {Coins: 80, EstimatedValue: 25},
			model.ConditionGood:      {Coins: 70, EstimatedValue: 20},
			model.ConditionFair:      {Coins: 60, EstimatedValue: 15},
		},
		Impact: model.Impact{CO2Kg: 5.2, EnergyKWh: 12, WasteKg: 0.15},
	}

	return &Catalog{entries: map[model.DeviceType]entry{
		model.DeviceSmartphone: smartphone,
		model.DeviceLaptop: {
			Rewards: map[model.Condition]Reward{
				model.ConditionExcellent: {Coins: 150, EstimatedValue: 45},
				model.ConditionGood:      {Coins: 130, EstimatedValue: 35},
				model.ConditionFair:      {Coins: 120, EstimatedValue: 25},
			},
			Impact: model.Impact{CO2Kg: 12.8, EnergyKWh: 45, WasteKg: 2.5},
		},
		model.DeviceTablet: {
			Rewards: map[model.Condition]Reward{
				model.ConditionExcellent: {Coins: 120, EstimatedValue: 35},
				model.ConditionGood:      {Coins: 100, EstimatedValue: 25},
				model.ConditionFair:      {Coins: 80, EstimatedValue: 18},
			},
			Impact: model.Impact{CO2Kg: 8.5, EnergyKWh: 28, WasteKg: 0.8},
		},
		model.DeviceCharger: {
			Rewards: map[model.Condition]Reward{
				model.ConditionExcellent: {Coins: 15, EstimatedValue: 8},
				model.ConditionGood:      {Coins: 12, EstimatedValue: 6},
				model.ConditionFair:      {Coins: 10, EstimatedValue: 4},
			},
			Impact: model.Impact{CO2Kg: 2.1, EnergyKWh: 8, WasteKg: 0.05},
		},
		model.DeviceHeadphones: {
			Rewards: map[model.Condition]Reward{
				model.ConditionExcellent: {Coins: 40, EstimatedValue: 15},
				model.ConditionGood:      {Coins: 30, EstimatedValue: 12},
				model.ConditionFair:      {Coins: 25, EstimatedValue: 8},
			},
			Impact: model.Impact{CO2Kg: 3.2, EnergyKWh: 15, WasteKg: 0.12},
		},
		model.DeviceSmartwatch: {
			Rewards: map[model.Condition]Reward{
				model.ConditionExcellent: {Coins: 100, EstimatedValue: 30},
				model.ConditionGood:      {Coins: 80, EstimatedValue: 22},
				model.ConditionFair:      {Coins: 60, EstimatedValue: 15},
			},
			Impact: model.Impact{CO2Kg: 4.8, EnergyKWh: 18, WasteKg: 0.08},
		},
		model.DeviceOther: smartphone,
	}}
}

// LoadFile читает справочник из YAML-файла.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load читает справочник из YAML-документа вида
//
//	laptop:
//	  rewards:
//	    good: {coins: 130, value: 35}
//	  impact: {co2: 12.8, energy: 45, waste: 2.5}
//
// Типы, отсутствующие в документе, берутся из встроенного справочника.
func Load(r io.Reader) (*Catalog, error) {
	var doc map[model.DeviceType]entry
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := Default()
	for dt, e := range doc {
		if !dt.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, dt)
		}
		for cond, rw := range e.Rewards {
			if !cond.Valid() {
				return nil, fmt.Errorf("catalog %s: unknown condition %q", dt, cond)
			}
			if rw.Coins <= 0 || rw.EstimatedValue < 0 {
				return nil, fmt.Errorf("catalog %s/%s: reward must be positive", dt, cond)
			}
		}
		if _, ok := e.Rewards[DefaultCondition]; !ok {
			return nil, fmt.Errorf("catalog %s: %s reward is required", dt, DefaultCondition)
		}
		c.entries[dt] = e
	}

	return c, nil
}

// Lookup возвращает начисление для типа и состояния устройства.
// Неизвестное состояние заменяется на DefaultCondition.
func (c *Catalog) Lookup(deviceType model.DeviceType, condition model.Condition) (Reward, error) {
	e, ok := c.entries[deviceType]
	if !ok {
		return Reward{}, fmt.Errorf("%w: %q", ErrUnknownDeviceType, deviceType)
	}

	if rw, ok := e.Rewards[condition]; ok {
		return rw, nil
	}
	return e.Rewards[DefaultCondition], nil
}

// ImpactFor возвращает экологический эффект для типа устройства.
// Для неизвестных типов используется профиль смартфона.
func (c *Catalog) ImpactFor(deviceType model.DeviceType) model.Impact {
	if e, ok := c.entries[deviceType]; ok {
		return e.Impact
	}
	return c.entries[model.DeviceSmartphone].Impact
}
