// Package metrics публикует метрики сервиса в формате Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

const namespace = "ecorewards"

var (
	// Registry содержит коллекторы сервиса.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	recycledDevices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recycling",
			Name:      "devices_total",
			Help:      "Devices accepted for recycling.",
		},
		[]string{"device_type"},
	)

	coinsAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recycling",
			Name:      "coins_awarded_total",
			Help:      "Coins credited for recycled devices including level-up bonuses.",
		},
	)

	badgesUnlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recycling",
			Name:      "badges_unlocked_total",
			Help:      "Badges unlocked by recycling.",
		},
		[]string{"badge"},
	)

	commitConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "commit_conflicts_total",
			Help:      "Optimistic concurrency conflicts on recycling commits.",
		},
	)

	registrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "registrations_total",
			Help:      "Accounts registered.",
		},
	)

	classifierFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "fallbacks_total",
			Help:      "Scans answered by the keyword classifier after a remote failure.",
		},
	)

	platformUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "platform", Name: "users",
		Help: "Registered accounts at the last stats refresh.",
	})
	platformCoins = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "platform", Name: "coins",
		Help: "Coins held by all accounts at the last stats refresh.",
	})
	platformDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "platform", Name: "devices_recycled",
		Help: "Devices recycled by all accounts at the last stats refresh.",
	})
	platformValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "platform", Name: "value",
		Help: "Estimated value of recycled devices at the last stats refresh.",
	})
	platformCO2 = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "platform", Name: "co2_saved_kg",
		Help: "CO2 saved by all accounts at the last stats refresh.",
	})
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		recycledDevices,
		coinsAwarded,
		badgesUnlocked,
		commitConflicts,
		registrations,
		classifierFallbacks,
		platformUsers,
		platformCoins,
		platformDevices,
		platformValue,
		platformCO2,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler отдаёт зарегистрированные метрики.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler собирает метрики HTTP-запросов. Путь берётся из шаблона маршрута chi.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordRecycling учитывает принятое устройство, начисленные монеты и новые достижения.
func RecordRecycling(deviceType model.DeviceType, coins int64, newBadges []model.Badge) {
	recycledDevices.WithLabelValues(string(deviceType)).Inc()
	coinsAwarded.Add(float64(coins))
	for _, b := range newBadges {
		badgesUnlocked.WithLabelValues(string(b)).Inc()
	}
}

// RecordConflict учитывает конфликт версий при сохранении.
func RecordConflict() {
	commitConflicts.Inc()
}

// RecordRegistration учитывает новую учётную запись.
func RecordRegistration() {
	registrations.Inc()
}

// RecordClassifierFallback учитывает переход на резервный классификатор.
func RecordClassifierFallback() {
	classifierFallbacks.Inc()
}

// SetPlatformStats публикует агрегированную статистику платформы.
func SetPlatformStats(s model.PlatformStats) {
	platformUsers.Set(float64(s.TotalUsers))
	platformCoins.Set(float64(s.TotalCoins))
	platformDevices.Set(float64(s.TotalDevicesRecycled))
	platformValue.Set(s.TotalValue)
	platformCO2.Set(s.TotalCO2Saved)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
