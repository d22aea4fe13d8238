package leaderboard

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

func accounts() []model.Account {
	return []model.Account{
		{ID: "a", Name: "alice", Coins: 10, DevicesRecycled: 1, Level: 1, TotalValue: 20, CO2Saved: 5.2},
		{ID: "b", Name: "bob", Coins: 20, DevicesRecycled: 2, Level: 1, TotalValue: 40, CO2Saved: 1.5},
		{ID: "c", Name: "carol", Coins: 30, DevicesRecycled: 3, Level: 1, TotalValue: 10, CO2Saved: 2},
	}
}

func TestPlatformStats(t *testing.T) {
	s := PlatformStats(accounts())

	assert.Equal(t, 3, s.TotalUsers)
	assert.Equal(t, int64(60), s.TotalCoins)
	assert.Equal(t, int64(6), s.TotalDevicesRecycled)
	assert.InDelta(t, 70, s.TotalValue, 1e-9)
	assert.InDelta(t, 8.7, s.TotalCO2Saved, 1e-9)

	assert.Equal(t, model.PlatformStats{}, PlatformStats(nil))
}

func TestTop_OrdersByMetric(t *testing.T) {
	top := Top(accounts(), model.MetricCoins, 10)
	require.Len(t, top, 3)
	assert.Equal(t, "carol", top[0].Name)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, "alice", top[2].Name)

	top = Top(accounts(), model.MetricTotalValue, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "bob", top[0].Name)
	assert.Equal(t, "alice", top[1].Name)
}

func TestTop_TiesKeepCreationOrder(t *testing.T) {
	top := Top(accounts(), model.MetricLevel, 10)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{top[0].Name, top[1].Name, top[2].Name})
}

func TestTop_DoesNotReorderInput(t *testing.T) {
	in := accounts()
	_ = Top(in, model.MetricCoins, 10)
	assert.Equal(t, "a", in[0].ID)
}

func TestTop_OrderingProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	in := make([]model.Account, 60)
	for i := range in {
		in[i] = model.Account{
			ID:              string(rune('A' + i)),
			Coins:           int64(rnd.Intn(20)),
			DevicesRecycled: int64(rnd.Intn(20)),
			TotalValue:      float64(rnd.Intn(20)),
		}
		in[i].Level = int(in[i].DevicesRecycled/5) + 1
	}

	for _, m := range []model.Metric{model.MetricCoins, model.MetricDevicesRecycled, model.MetricLevel, model.MetricTotalValue} {
		top := Top(in, m, MaxLimit)
		require.Len(t, top, len(in))
		for i := 1; i < len(top); i++ {
			prev := entryValue(top[i-1], m)
			cur := entryValue(top[i], m)
			if prev < cur {
				t.Fatalf("metric %s: entry %d (%v) before entry %d (%v)", m, i-1, prev, i, cur)
			}
		}

		for i := range in {
			info, ok := Rank(in, in[i].ID, m)
			require.True(t, ok)
			greater := 0
			for j := range in {
				if m.Value(&in[j]) > m.Value(&in[i]) {
					greater++
				}
			}
			assert.Equal(t, greater+1, info.Rank)
		}
	}
}

func entryValue(e Entry, m model.Metric) float64 {
	switch m {
	case model.MetricDevicesRecycled:
		return float64(e.DevicesRecycled)
	case model.MetricLevel:
		return float64(e.Level)
	case model.MetricTotalValue:
		return e.TotalValue
	default:
		return float64(e.Coins)
	}
}

func TestRank(t *testing.T) {
	info, ok := Rank(accounts(), "a", model.MetricCoins)
	require.True(t, ok)
	assert.Equal(t, model.RankInfo{Rank: 3, TotalUsers: 3, Percentile: 0}, info)

	info, ok = Rank(accounts(), "c", model.MetricCoins)
	require.True(t, ok)
	assert.Equal(t, model.RankInfo{Rank: 1, TotalUsers: 3, Percentile: 67}, info)

	info, ok = Rank(accounts(), "b", model.MetricLevel)
	require.True(t, ok)
	assert.Equal(t, 1, info.Rank)

	_, ok = Rank(accounts(), "zzz", model.MetricCoins)
	assert.False(t, ok)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, model.MetricCoins, m)

	m, err = ParseMetric("devicesRecycled")
	require.NoError(t, err)
	assert.Equal(t, model.MetricDevicesRecycled, m)

	_, err = ParseMetric("password")
	assert.True(t, errors.Is(err, ErrUnknownMetric))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 5, NormalizeLimit(5))
	assert.Equal(t, MaxLimit, NormalizeLimit(1000))
}
