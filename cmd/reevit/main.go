package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/reevit-checkout/internal/config"
	"github.com/noah-isme/reevit-checkout/internal/gateway"
	"github.com/noah-isme/reevit-checkout/internal/resilience"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reevit",
		Short:         "Reevit checkout session host and intent service tooling",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(intentCmd())
	return root
}

// newGateway builds the intent service client with retries and a breaker.
func newGateway(cfg *config.Config, logger zerolog.Logger) *gateway.Client {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:       "reevit_api",
		MinRequests:  cfg.Reevit.BreakerMinRequests,
		FailureRatio: cfg.Reevit.BreakerFailureRatio,
		OpenFor:      cfg.Reevit.BreakerOpenFor,
	}).WithLogger(logger)
	return gateway.New(gateway.Options{
		BaseURL:   cfg.Reevit.BaseURL,
		PublicKey: cfg.Reevit.PublicKey,
		HTTP: resilience.HTTPClient{
			Client:      gateway.NewHTTPClient(0),
			Breaker:     breaker,
			BaseBackoff: cfg.Reevit.RetryBaseBackoff,
			MaxAttempts: cfg.Reevit.RetryMaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.Reevit.HTTPTimeout,
		},
		Logger: logger,
	})
}
