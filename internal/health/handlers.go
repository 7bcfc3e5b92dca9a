// Package health serves liveness and readiness probes for the session host.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness. The server flips it off when shutdown begins so
// load balancers drain the instance before sessions are closed.
func SetReady(v bool) { ready.Store(v) }

// Probe checks one optional dependency.
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

// RedisProbe pings the callback replay store.
func RedisProbe(client redis.UniversalClient) Probe {
	return Probe{Name: "redis", Ping: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// NATSProbe reports the event connection status.
func NATSProbe(conn *nats.Conn) Probe {
	return Probe{Name: "nats", Ping: func(ctx context.Context) error {
		if !conn.IsConnected() {
			return nats.ErrConnectionClosed
		}
		return conn.FlushWithContext(ctx)
	}}
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes  []Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe and reports 503 if any fails or the server is
// shutting down.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := ready.Load()
	if !healthy {
		status["server"] = "shutting down"
	}
	for _, p := range h.Probes {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			status[p.Name] = err.Error()
			healthy = false
			continue
		}
		status[p.Name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.Timeout
}
