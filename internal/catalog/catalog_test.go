package catalog

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name       string
		deviceType model.DeviceType
		condition  model.Condition
		want       Reward
		wantErr    error
	}{
		{
			name:       "smartphone good",
			deviceType: model.DeviceSmartphone,
			condition:  model.ConditionGood,
			want:       Reward{Coins: 70, EstimatedValue: 20},
		},
		{
			name:       "laptop excellent",
			deviceType: model.DeviceLaptop,
			condition:  model.ConditionExcellent,
			want:       Reward{Coins: 150, EstimatedValue: 45},
		},
		{
			name:       "poor falls back to fair",
			deviceType: model.DeviceTablet,
			condition:  model.ConditionPoor,
			want:       Reward{Coins: 80, EstimatedValue: 18},
		},
		{
			name:       "unknown condition falls back to fair",
			deviceType: model.DeviceCharger,
			condition:  model.Condition("broken"),
			want:       Reward{Coins: 10, EstimatedValue: 4},
		},
		{
			name:       "other uses smartphone rows",
			deviceType: model.DeviceOther,
			condition:  model.ConditionExcellent,
			want:       Reward{Coins: 80, EstimatedValue: 25},
		},
		{
			name:       "unknown device type",
			deviceType: model.DeviceType("toaster"),
			condition:  model.ConditionGood,
			wantErr:    ErrUnknownDeviceType,
		},
	}

	c := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Lookup(tt.deviceType, tt.condition)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImpactFor(t *testing.T) {
	c := Default()

	assert.Equal(t, model.Impact{CO2Kg: 12.8, EnergyKWh: 45, WasteKg: 2.5}, c.ImpactFor(model.DeviceLaptop))
	assert.Equal(t, c.ImpactFor(model.DeviceSmartphone), c.ImpactFor(model.DeviceType("toaster")))
}

func TestLoad_OverridesOneType(t *testing.T) {
	doc := `
laptop:
  rewards:
    excellent: {coins: 200, value: 60}
    fair: {coins: 140, value: 30}
  impact: {co2: 13, energy: 50, waste: 3}
`
	c, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	rw, err := c.Lookup(model.DeviceLaptop, model.ConditionExcellent)
	require.NoError(t, err)
	assert.Equal(t, Reward{Coins: 200, EstimatedValue: 60}, rw)

	rw, err = c.Lookup(model.DeviceLaptop, model.ConditionGood)
	require.NoError(t, err)
	assert.Equal(t, Reward{Coins: 140, EstimatedValue: 30}, rw)

	assert.Equal(t, 13.0, c.ImpactFor(model.DeviceLaptop).CO2Kg)

	rw, err = c.Lookup(model.DeviceSmartphone, model.ConditionGood)
	require.NoError(t, err)
	assert.Equal(t, int64(70), rw.Coins)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown type", doc: "toaster:\n  rewards:\n    fair: {coins: 1, value: 1}\n"},
		{name: "unknown condition", doc: "laptop:\n  rewards:\n    mint: {coins: 1, value: 1}\n    fair: {coins: 1, value: 1}\n"},
		{name: "zero coins", doc: "laptop:\n  rewards:\n    fair: {coins: 0, value: 1}\n"},
		{name: "missing fair", doc: "laptop:\n  rewards:\n    good: {coins: 5, value: 1}\n"},
		{name: "not yaml", doc: "laptop: [::"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.Error(t, err)
		})
	}

	_, err := Load(strings.NewReader("toaster:\n  rewards:\n    fair: {coins: 1, value: 1}\n"))
	assert.True(t, errors.Is(err, ErrUnknownDeviceType))
}
