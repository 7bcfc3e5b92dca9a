package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/reevit-checkout/internal/config"
	"github.com/noah-isme/reevit-checkout/internal/events"
	"github.com/noah-isme/reevit-checkout/internal/health"
	"github.com/noah-isme/reevit-checkout/internal/notify"
	"github.com/noah-isme/reevit-checkout/internal/obs"
	"github.com/noah-isme/reevit-checkout/internal/ratelimit"
	"github.com/noah-isme/reevit-checkout/internal/resilience"
	"github.com/noah-isme/reevit-checkout/internal/security"
	"github.com/noah-isme/reevit-checkout/internal/session"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout session host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Port = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides PORT")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	namespace := cfg.Obs.MetricsNamespace
	obs.MustRegisterDomainMetrics(namespace, nil)
	resilience.RegisterMetrics(namespace, nil)
	httpMetrics := obs.NewHTTPMetrics(namespace, nil, nil)

	if cfg.Obs.EnableTracing {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "reevit-checkout",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			return fmt.Errorf("initialise tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	var (
		probes  []health.Probe
		replay  session.ReplayGuard = &session.MemoryReplayGuard{}
		limiter ratelimit.Limiter  = ratelimit.NewMemory("reevit:ratelimit")
	)

	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		replay = session.RedisReplayGuard{Client: client}
		limiter = ratelimit.RedisSliding{Client: client, Prefix: "reevit:ratelimit:"}
		probes = append(probes, health.RedisProbe(client))
	} else {
		logger.Warn().Msg("REDIS_URL not set; callback replay guard and rate limits are per-process")
	}

	bus := &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}}}
	if cfg.NATSURL != "" {
		conn, err := events.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer drainNATS(conn, logger)
		bus.Notifiers = append(bus.Notifiers, events.NATSNotifier{Conn: conn, Prefix: cfg.NATSSubjectPrefix})
		probes = append(probes, health.NATSProbe(conn))
	}
	if cfg.Webhook.URL != "" {
		if err := notify.ValidateURL(cfg.Webhook.URL); err != nil {
			return fmt.Errorf("WEBHOOK_URL: %w", err)
		}
		webhooks := events.NewQueue(newWebhookNotifier(cfg.Webhook, logger), 0, logger)
		defer webhooks.Close()
		bus.Notifiers = append(bus.Notifiers, webhooks)
	}

	sessions := &session.Handler{
		Registry:  session.NewRegistry(),
		Gateway:   newGateway(cfg, logger),
		Events:    bus,
		Replay:    replay,
		ReplayTTL: cfg.CallbackReplayTTL,
		Logger:    logger,
	}

	handler := newRouter(routerDeps{
		Logger:         logger,
		Metrics:        httpMetrics,
		Tracing:        cfg.Obs.EnableTracing,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Health:         health.Handler{Probes: probes},
		Sessions:       sessions,
		Limiter:        limiter,
		RateWindow:     cfg.RateLimitWindow,
		RateMax:        cfg.RateLimitMax,
		Headers:        security.Headers{Enable: cfg.Security.HeadersEnabled, EnableHSTS: cfg.Security.EnableHSTS},
		MaxBodyBytes:   cfg.Security.MaxBodyBytes,
	})

	evictCtx, stopEvictor := context.WithCancel(context.Background())
	defer stopEvictor()
	go sessions.RunEvictor(evictCtx, evictInterval(cfg.SessionTTL), cfg.SessionTTL)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server exited unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("server stopping")
	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown http server")
	}
	stopEvictor()
	n := sessions.EvictIdle(shutdownCtx, 0)
	logger.Info().Int("sessions_closed", n).Msg("server stopped")
	return nil
}

func newWebhookNotifier(cfg config.WebhookConfig, logger zerolog.Logger) notify.Webhook {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:       "merchant_webhook",
		MinRequests:  cfg.BreakerMinRequests,
		FailureRatio: cfg.BreakerFailureRatio,
		OpenFor:      cfg.BreakerOpenFor,
	}).WithLogger(logger)
	return notify.Webhook{
		URL:    cfg.URL,
		Secret: cfg.Secret,
		HTTP: resilience.HTTPClient{
			Client:      notify.NewHTTPClient(0),
			Breaker:     breaker,
			BaseBackoff: 250 * time.Millisecond,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.Timeout,
		},
	}
}

func connectRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func drainNATS(conn *nats.Conn, logger zerolog.Logger) {
	if err := conn.Drain(); err != nil {
		logger.Error().Err(err).Msg("drain nats")
	}
}

// evictInterval sweeps often enough that a session outlives its TTL by at
// most a quarter.
func evictInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Minute
	}
	return max(ttl/4, time.Second)
}
