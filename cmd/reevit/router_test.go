package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reevit-checkout/internal/config"
	"github.com/noah-isme/reevit-checkout/internal/events"
	"github.com/noah-isme/reevit-checkout/internal/health"
	"github.com/noah-isme/reevit-checkout/internal/obs"
	"github.com/noah-isme/reevit-checkout/internal/ratelimit"
	"github.com/noah-isme/reevit-checkout/internal/resilience"
	"github.com/noah-isme/reevit-checkout/internal/session"
)

func newTestRouter(t *testing.T, apiURL string, rateMax int) http.Handler {
	t.Helper()
	cfg, err := config.LoadForTests(map[string]string{
		"REEVIT_API_BASE_URL":       apiURL,
		"REEVIT_RETRY_MAX_ATTEMPTS": "1",
	})
	require.NoError(t, err)
	sessions := &session.Handler{
		Registry: session.NewRegistry(),
		Gateway:  newGateway(cfg, zerolog.Nop()),
		Replay:   &session.MemoryReplayGuard{},
		Logger:   zerolog.Nop(),
	}
	return newRouter(routerDeps{
		Logger:     zerolog.Nop(),
		Metrics:    obs.NewHTTPMetrics("reevit_test", nil, prometheus.NewRegistry()),
		Health:     health.Handler{},
		Sessions:   sessions,
		Limiter:    ratelimit.NewMemory("test"),
		RateWindow: time.Minute,
		RateMax:    rateMax,
	})
}

func TestRouterCreatesSessionAgainstIntentService(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/intents", r.URL.Path)
		require.Equal(t, "pk_live", r.Header.Get("X-Reevit-Key"))
		require.Equal(t, "ref-9", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_9","amount":2500,"currency":"NGN","status":"pending","provider":"flutterwave","psp_public_key":"FLWPUBK"}`))
	}))
	t.Cleanup(api.Close)

	router := newTestRouter(t, api.URL, 100)
	rr := httptest.NewRecorder()
	body := `{"config":{"publicKey":"pk_live","amount":2500,"currency":"NGN","reference":"ref-9","email":"ada@example.com"}}`
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		ID    string `json:"id"`
		State struct {
			Status        string `json:"status"`
			PaymentIntent struct {
				ID             string `json:"id"`
				RecommendedPSP string `json:"recommendedPsp"`
			} `json:"paymentIntent"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "ready", created.State.Status)
	require.Equal(t, "pi_9", created.State.PaymentIntent.ID)
	require.Equal(t, "flutterwave", created.State.PaymentIntent.RecommendedPSP)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID+"/launch", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), "FLWPUBK")
}

func TestRouterHealthAndRateLimit(t *testing.T) {
	router := newTestRouter(t, "http://127.0.0.1:1", 2)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/unknown", nil)
		req.RemoteAddr = "203.0.113.5:1234"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)
}

func TestEvictInterval(t *testing.T) {
	require.Equal(t, time.Minute, evictInterval(0))
	require.Equal(t, 15*time.Minute, evictInterval(time.Hour))
	require.Equal(t, time.Second, evictInterval(2*time.Second))
}

func TestWebhookNotifierUsesConfiguredBreaker(t *testing.T) {
	var calls atomic.Int32
	merchant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(merchant.Close)

	cfg, err := config.LoadForTests(map[string]string{
		"WEBHOOK_URL":                   merchant.URL,
		"WEBHOOK_SECRET":                "whsec",
		"WEBHOOK_MAX_ATTEMPTS":          "1",
		"WEBHOOK_BREAKER_MIN_REQUESTS":  "1",
		"WEBHOOK_BREAKER_FAILURE_RATIO": "1",
		"WEBHOOK_BREAKER_OPEN_FOR":      "1h",
	})
	require.NoError(t, err)

	wh := newWebhookNotifier(cfg.Webhook, zerolog.Nop())
	require.Equal(t, "merchant_webhook", wh.HTTP.Breaker.Target())

	ev := events.Event{ID: "01J0EVENT", Topic: events.TopicClosed, SessionID: "s-1"}
	require.Error(t, wh.Notify(context.Background(), ev))
	require.Equal(t, resilience.Open, wh.HTTP.Breaker.State())

	require.ErrorIs(t, wh.Notify(context.Background(), ev), resilience.ErrOpenCircuit)
	require.EqualValues(t, 1, calls.Load())
}
