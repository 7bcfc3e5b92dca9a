package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/config"
	"github.com/noah-isme/reevit-checkout/internal/money"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

func intentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intent",
		Short: "Create, confirm or cancel payment intents against the intent service",
	}
	cmd.AddCommand(intentCreateCmd(), intentConfirmCmd(), intentCancelCmd())
	return cmd
}

type createFlags struct {
	publicKey string
	amount    int64
	currency  string
	reference string
	email     string
	name      string
	phone     string
	method    string
	linkCode  string
	provider  string
	allowed   []string
}

func intentCreateCmd() *cobra.Command {
	var f createFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a payment intent and print the mapped intent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runIntentCreate(cmd.Context(), cmd.OutOrStdout(), cfg, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.publicKey, "public-key", "", "merchant public key, defaults to REEVIT_PUBLIC_KEY")
	flags.Int64Var(&f.amount, "amount", 0, "amount in minor units")
	flags.StringVar(&f.currency, "currency", "GHS", "ISO 4217 currency code")
	flags.StringVar(&f.reference, "reference", "", "merchant reference, generated when empty")
	flags.StringVar(&f.email, "email", "", "customer email")
	flags.StringVar(&f.name, "name", "", "customer name")
	flags.StringVar(&f.phone, "phone", "", "customer phone")
	flags.StringVar(&f.method, "method", "", "payment method (card, momo, bank)")
	flags.StringVar(&f.linkCode, "link", "", "payment link code; switches to the payment-link endpoint")
	flags.StringVar(&f.provider, "provider", "", "preferred provider")
	flags.StringSliceVar(&f.allowed, "allow-provider", nil, "allowed providers")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func runIntentCreate(ctx context.Context, out io.Writer, cfg *config.Config, f createFlags) error {
	var method psp.Method
	if f.method != "" {
		m, ok := psp.ResolveMethod(f.method)
		if !ok {
			return fmt.Errorf("unsupported payment method %q", f.method)
		}
		method = m
	}
	publicKey := f.publicKey
	if publicKey == "" {
		publicKey = cfg.Reevit.PublicKey
	}
	if publicKey == "" && f.linkCode == "" {
		return errors.New("a public key is required: pass --public-key or set REEVIT_PUBLIC_KEY")
	}
	reference := f.reference
	if reference == "" {
		reference = checkout.GenerateReference()
	}
	co := checkout.Config{
		PublicKey:       publicKey,
		Amount:          f.amount,
		Currency:        strings.ToUpper(strings.TrimSpace(f.currency)),
		Reference:       reference,
		Email:           f.email,
		CustomerName:    f.name,
		Phone:           f.phone,
		PaymentLinkCode: f.linkCode,
	}
	var hints checkout.RoutingHints
	if f.provider != "" {
		hints.PreferredProviders = []string{f.provider}
	}
	hints.AllowedProviders = f.allowed

	gw := newGateway(cfg, zerolog.Nop())
	resp, err := gw.CreatePaymentIntent(ctx, co, method, money.CountryForCurrency(co.Currency), hints)
	if err != nil {
		return err
	}
	if resp == nil {
		return checkout.NewPaymentError(checkout.CodeInitFailed, "No data received from API", nil)
	}
	intent := checkout.MapToPaymentIntent(*resp, co)
	return printJSON(out, map[string]any{
		"intent":  intent,
		"display": money.Format(intent.Amount, intent.Currency),
	})
}

func intentConfirmCmd() *cobra.Command {
	var clientSecret string
	cmd := &cobra.Command{
		Use:   "confirm <intent-id>",
		Short: "Confirm a payment intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gw := newGateway(cfg, zerolog.Nop())
			var resp *checkout.ConfirmResponse
			if clientSecret != "" {
				resp, err = gw.ConfirmPaymentIntent(cmd.Context(), args[0], clientSecret)
			} else {
				resp, err = gw.ConfirmPayment(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "confirm with the intent's client secret")
	return cmd
}

func intentCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <intent-id>",
		Short: "Cancel a payment intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := newGateway(cfg, zerolog.Nop()).CancelPaymentIntent(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": args[0], "status": "cancelled"})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
