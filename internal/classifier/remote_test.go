package classifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

func TestRemoteClassify_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/recognize" {
			t.Fatalf("path = %s, want /api/recognize", r.URL.Path)
		}
		if got := r.URL.Query().Get("label"); got != "my laptop.jpg" {
			t.Fatalf("label = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deviceType":"laptop","confidence":0.97}`))
	}))
	defer ts.Close()

	client := NewRemoteClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rec, err := client.Classify(ctx, "my laptop.jpg")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if rec.DeviceType != model.DeviceLaptop || rec.Confidence != 0.97 {
		t.Fatalf("unexpected recognition: %+v", rec)
	}
}

func TestRemoteClassify_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := NewRemoteClient(ts.URL).Classify(context.Background(), "x")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter < 5*time.Second {
		t.Fatalf("retryAfter not propagated: %v", err)
	}
}

func TestRemoteClassify_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"deviceType":"smartwatch","confidence":0.8}`))
	}))
	defer ts.Close()

	rec, err := NewRemoteClient(ts.URL).Classify(context.Background(), "galaxy watch")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if rec.DeviceType != model.DeviceSmartwatch {
		t.Fatalf("DeviceType = %s, want smartwatch", rec.DeviceType)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestRemoteClassify_DoesNotRetryRateLimit(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	if _, err := NewRemoteClient(ts.URL).Classify(context.Background(), "x"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestRemoteClassify_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	_, err := NewRemoteClient(ts.URL).Classify(context.Background(), "x")
	if !errors.Is(err, ErrNoOpinion) {
		t.Fatalf("expected ErrNoOpinion, got %v", err)
	}
}

func TestRemoteClassify_RejectsUnknownType(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"deviceType":"toaster","confidence":0.5}`))
	}))
	defer ts.Close()

	if _, err := NewRemoteClient(ts.URL).Classify(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for unsupported device type")
	}
}

func TestFallback_UsesSecondaryOnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	var seen error
	f := &Fallback{
		Primary:   NewRemoteClient(ts.URL),
		Secondary: NewKeyword(fixedRand(0.5)),
		OnError:   func(err error) { seen = err },
	}

	rec, err := f.Classify(context.Background(), "ipad.jpg")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if rec.DeviceType != model.DeviceTablet {
		t.Fatalf("DeviceType = %s, want tablet", rec.DeviceType)
	}
	if seen == nil {
		t.Fatalf("OnError was not called")
	}
}
