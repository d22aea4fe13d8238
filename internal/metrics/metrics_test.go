package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

func scrape(t *testing.T) string {
	t.Helper()

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInstrumentHandler_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/items/42", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t)
	assert.Contains(t, body, `ecorewards_http_requests_total{method="GET",path="/api/items/{id}",status="418"} 1`)
	assert.False(t, strings.Contains(body, "/api/items/42"))
}

func TestRecordRecycling(t *testing.T) {
	RecordRecycling(model.DeviceTablet, 180, []model.Badge{model.BadgeEcoWarrior})

	body := scrape(t)
	assert.Contains(t, body, `ecorewards_recycling_devices_total{device_type="tablet"} 1`)
	assert.Contains(t, body, `ecorewards_recycling_badges_unlocked_total{badge="Eco Warrior"} 1`)
}

func TestSetPlatformStats(t *testing.T) {
	SetPlatformStats(model.PlatformStats{TotalUsers: 3, TotalCoins: 60})

	body := scrape(t)
	assert.Contains(t, body, "ecorewards_platform_users 3")
	assert.Contains(t, body, "ecorewards_platform_coins 60")
}
