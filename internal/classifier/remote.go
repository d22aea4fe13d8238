package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

const (
	remoteTimeout      = 5 * time.Second
	remoteRetryMax     = 2
	remoteRetryWaitMin = 100 * time.Millisecond
	remoteRetryWaitMax = 500 * time.Millisecond
)

var (
	// ErrRateLimited возвращается, когда сервис распознавания просит повторить позже.
	ErrRateLimited = errors.New("recognition service rate limited")
	// ErrNoOpinion возвращается, когда сервис распознавания не смог определить устройство.
	ErrNoOpinion = errors.New("recognition service has no opinion")
)

// RateLimitError содержит интервал Retry-After из ответа сервиса.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RemoteClient обращается к внешнему сервису распознавания устройств.
type RemoteClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type remoteResponse struct {
	DeviceType string  `json:"deviceType"`
	Confidence float64 `json:"confidence"`
}

// NewRemoteClient создаёт HTTP-клиент сервиса распознавания по указанному адресу.
func NewRemoteClient(baseURL string) *RemoteClient {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	hc := retryablehttp.NewClient()
	hc.HTTPClient.Timeout = remoteTimeout
	hc.RetryMax = remoteRetryMax
	hc.RetryWaitMin = remoteRetryWaitMin
	hc.RetryWaitMax = remoteRetryWaitMax
	hc.CheckRetry = retryTransient
	hc.Logger = nil

	return &RemoteClient{baseURL: base, httpClient: hc}
}

// retryTransient повторяет запрос только при сетевых ошибках и ответах 5xx.
// 429 и 204 обрабатываются вызывающим кодом.
func retryTransient(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode != http.StatusNotImplemented, nil
}

// Classify запрашивает распознавание подписи у внешнего сервиса.
func (c *RemoteClient) Classify(ctx context.Context, label string) (Recognition, error) {
	if c == nil || c.baseURL == "" {
		return Recognition{}, fmt.Errorf("recognition client not configured")
	}

	endpoint := fmt.Sprintf("%s/api/recognize?label=%s", c.baseURL, url.QueryEscape(label))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Recognition{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Recognition{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return Recognition{}, &RateLimitError{RetryAfter: retryAfter}
	case http.StatusNoContent:
		return Recognition{}, ErrNoOpinion
	default:
		return Recognition{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Recognition{}, fmt.Errorf("decode response: %w", err)
	}

	dt := model.DeviceType(result.DeviceType)
	if !dt.Valid() {
		return Recognition{}, fmt.Errorf("unsupported device type %q", result.DeviceType)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		return Recognition{}, fmt.Errorf("confidence out of range: %v", result.Confidence)
	}

	return Recognition{DeviceType: dt, Confidence: result.Confidence}, nil
}

// Fallback опрашивает основную стратегию и при ошибке возвращается к резервной.
type Fallback struct {
	Primary   Strategy
	Secondary Strategy
	OnError   func(err error)
}

// Classify реализует Strategy.
func (f *Fallback) Classify(ctx context.Context, label string) (Recognition, error) {
	if f.Primary != nil {
		rec, err := f.Primary.Classify(ctx, label)
		if err == nil {
			return rec, nil
		}
		if f.OnError != nil {
			f.OnError(err)
		}
	}
	return f.Secondary.Classify(ctx, label)
}
