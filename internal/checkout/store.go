// Package checkout implements the checkout state machine and the orchestrator
// that drives it against the intent service on behalf of a UI.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/reevit-checkout/internal/money"
	"github.com/noah-isme/reevit-checkout/internal/obs"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

var validate = validator.New()

var storeNopLogger = zerolog.Nop()

// Gateway is the intent service as seen by the Store. Implementations report
// service-side failures as *PaymentError.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, cfg Config, method psp.Method, country string, hints RoutingHints) (*IntentResponse, error)
	ConfirmPaymentIntent(ctx context.Context, intentID, clientSecret string) (*ConfirmResponse, error)
	ConfirmPayment(ctx context.Context, intentID string) (*ConfirmResponse, error)
	CancelPaymentIntent(ctx context.Context, intentID string) error
}

// Callbacks are optional hooks for the embedding UI. Each runs after the state
// has been updated and subscribers notified, never while the Store is locked.
type Callbacks struct {
	OnSuccess     func(PaymentResult)
	OnError       func(*PaymentError)
	OnClose       func()
	OnStateChange func(Status)
}

// Options configures a Store.
type Options struct {
	Config    Config
	Gateway   Gateway
	Callbacks Callbacks
	Logger    *zerolog.Logger
}

type subscriber struct {
	id uint64
	fn func(State)
}

// Store owns the state of a single checkout session. All mutations go through
// dispatch, which replaces the state value and notifies subscribers.
type Store struct {
	cfg    Config
	gw     Gateway
	cb     Callbacks
	logger *zerolog.Logger

	mu         sync.Mutex
	state      State
	subs       []subscriber
	nextSubID  uint64
	generation uint64
}

// NewStore validates the configuration and returns an idle Store, or one
// seeded with Config.InitialPaymentIntent when provided.
func NewStore(opts Options) (*Store, error) {
	if opts.Gateway == nil {
		return nil, errors.New("checkout: gateway is required")
	}
	if err := validate.Struct(opts.Config); err != nil {
		return nil, fmt.Errorf("checkout: invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &storeNopLogger
	}
	s := &Store{
		cfg:    opts.Config,
		gw:     opts.Gateway,
		cb:     opts.Callbacks,
		logger: logger,
		state:  InitialState(),
	}
	if intent := opts.Config.InitialPaymentIntent; intent != nil {
		s.state = stateForIntent(intent)
	}
	return s, nil
}

// Config returns the configuration the Store was built with.
func (s *Store) Config() Config { return s.cfg }

// Subscribe registers fn and immediately calls it with the current state. fn
// then receives every subsequent snapshot. The returned function removes the
// subscription and is safe to call more than once.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	current := s.state
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Initialize negotiates a payment intent. method, when empty, falls back to the
// sole configured method or is left for the server to choose. Failures never
// escape: they become an error state and an OnError call.
func (s *Store) Initialize(ctx context.Context, method psp.Method, opts InitOptions) {
	ctx, span := otel.Tracer("checkout.Store").Start(ctx, "Store.Initialize")
	defer span.End()

	var gen uint64
	_, started := s.transition(Action{Type: ActionInitStart}, func() bool {
		if s.state.Status != StatusIdle && s.state.Status != StatusError {
			return false
		}
		s.generation++
		gen = s.generation
		return true
	})
	if !started {
		s.logger.Debug().Str("status", string(s.Status())).Msg("initialize_ignored")
		return
	}

	cfg := s.cfg
	if cfg.Reference == "" {
		cfg.Reference = GenerateReference()
	}
	country := money.CountryForCurrency(cfg.Currency)
	if method == "" && len(cfg.PaymentMethods) == 1 {
		method = cfg.PaymentMethods[0]
	}
	var hints RoutingHints
	if opts.PreferredProvider != "" {
		hints.PreferredProviders = []string{opts.PreferredProvider}
	}
	hints.AllowedProviders = opts.AllowedProviders

	span.SetAttributes(
		attribute.String("checkout.reference", cfg.Reference),
		attribute.String("checkout.method", string(method)),
		attribute.String("checkout.country", country),
	)

	var resp *IntentResponse
	err := guarded(func() error {
		var callErr error
		resp, callErr = s.gw.CreatePaymentIntent(ctx, cfg, method, country, hints)
		return callErr
	})
	if err == nil && resp == nil {
		err = NewPaymentError(CodeInitFailed, "No data received from API", nil)
	}
	if err == nil && !strings.EqualFold(strings.TrimSpace(resp.Currency), strings.TrimSpace(cfg.Currency)) {
		pe := NewPaymentError(CodeInvalidResponse, "Payment intent currency does not match checkout currency", nil)
		pe.Details = map[string]any{"expected": cfg.Currency, "received": resp.Currency}
		err = pe
	}
	if err != nil {
		pe := AsPaymentError(err, CodeInitFailed, "Failed to initialize checkout")
		span.RecordError(pe)
		span.SetStatus(codes.Error, pe.Code)
		s.fail(ActionInitError, pe, gen)
		return
	}

	intent := MapToPaymentIntent(*resp, cfg)
	span.SetAttributes(
		attribute.String("checkout.intent_id", intent.ID),
		attribute.String("checkout.psp", string(intent.RecommendedPSP)),
	)
	if _, ok := s.transition(Action{Type: ActionInitSuccess, Intent: &intent}, s.current(gen)); !ok {
		s.logger.Debug().Str("intent_id", intent.ID).Msg("stale_intent_discarded")
	}
}

// SelectMethod records the customer's payment method choice.
func (s *Store) SelectMethod(method psp.Method) {
	s.transition(Action{Type: ActionSelectMethod, Method: method}, nil)
}

// ProcessPayment confirms the current intent after the PSP flow succeeded. It
// does nothing unless the status is method_selected with an intent and a
// method, which absorbs stray PSP callbacks and blocks a second confirmation.
func (s *Store) ProcessPayment(ctx context.Context, data PSPData) {
	var (
		intent *PaymentIntent
		method psp.Method
		gen    uint64
	)
	_, started := s.transition(Action{Type: ActionProcessStart}, func() bool {
		st := s.state
		if st.PaymentIntent == nil || st.SelectedMethod == "" || st.Status != StatusMethodSelected {
			return false
		}
		intent, method, gen = st.PaymentIntent, st.SelectedMethod, s.generation
		return true
	})
	if !started {
		s.logger.Debug().Str("status", string(s.Status())).Msg("process_payment_ignored")
		return
	}

	ctx, span := otel.Tracer("checkout.Store").Start(ctx, "Store.ProcessPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("checkout.intent_id", intent.ID),
		attribute.String("checkout.method", string(method)),
		attribute.Bool("checkout.client_secret", intent.ClientSecret != ""),
	)

	var confirm *ConfirmResponse
	err := guarded(func() error {
		var callErr error
		if intent.ClientSecret != "" {
			confirm, callErr = s.gw.ConfirmPaymentIntent(ctx, intent.ID, intent.ClientSecret)
		} else {
			confirm, callErr = s.gw.ConfirmPayment(ctx, intent.ID)
		}
		return callErr
	})
	if err != nil {
		pe := AsPaymentError(err, CodePaymentFailed, "Payment failed")
		span.RecordError(pe)
		span.SetStatus(codes.Error, pe.Code)
		s.fail(ActionProcessError, pe, gen)
		return
	}

	result := buildResult(intent, method, data, confirm)
	// a PSP error reported while confirming leaves the session in error
	stillProcessing := func() bool {
		return s.generation == gen && s.state.Status == StatusProcessing
	}
	if _, ok := s.transition(Action{Type: ActionProcessSuccess, Result: &result}, stillProcessing); !ok {
		s.logger.Warn().Str("intent_id", intent.ID).Msg("stale_confirmation_discarded")
		return
	}
	if s.cb.OnSuccess != nil {
		s.cb.OnSuccess(result)
	}
}

// HandlePspSuccess is the entry point for PSP bridges reporting success.
func (s *Store) HandlePspSuccess(ctx context.Context, data PSPData) {
	s.ProcessPayment(ctx, data)
}

// HandlePspError records a failure reported by a PSP bridge. No confirmation
// is attempted. The state only changes while processing; OnError runs either way.
func (s *Store) HandlePspError(pe *PaymentError) {
	if pe == nil {
		pe = NewPaymentError("PSP_ERROR", "Payment provider reported an error", nil)
	}
	s.transition(Action{Type: ActionProcessError, Err: pe}, nil)
	if s.cb.OnError != nil {
		s.cb.OnError(pe)
	}
}

// Reset returns the session to idle and discards any in-flight results.
func (s *Store) Reset() {
	s.transition(Action{Type: ActionReset}, s.invalidate)
}

// Close cancels an unfinished intent on a best-effort basis, returns the
// session to idle and calls OnClose. Cancel failures are logged and dropped.
func (s *Store) Close(ctx context.Context) {
	st := s.State()
	if st.PaymentIntent != nil && st.Status != StatusSuccess {
		ctx, span := otel.Tracer("checkout.Store").Start(ctx, "Store.Close")
		span.SetAttributes(attribute.String("checkout.intent_id", st.PaymentIntent.ID))
		err := guarded(func() error {
			return s.gw.CancelPaymentIntent(ctx, st.PaymentIntent.ID)
		})
		if err != nil {
			span.RecordError(err)
			s.logger.Warn().Err(err).Str("intent_id", st.PaymentIntent.ID).Msg("intent_cancel_failed")
		}
		span.End()
	}
	s.transition(Action{Type: ActionClose}, s.invalidate)
	if s.cb.OnClose != nil {
		s.cb.OnClose()
	}
}

// State returns the current state snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Status() Status { return s.State().Status }

func (s *Store) PaymentIntent() *PaymentIntent { return s.State().PaymentIntent }

func (s *Store) SelectedMethod() psp.Method { return s.State().SelectedMethod }

func (s *Store) Error() *PaymentError { return s.State().Error }

func (s *Store) Result() *PaymentResult { return s.State().Result }

// IsComplete reports whether the payment succeeded.
func (s *Store) IsComplete() bool { return s.Status() == StatusSuccess }

// IsLoading reports whether a network round-trip is in progress.
func (s *Store) IsLoading() bool {
	st := s.Status()
	return st == StatusLoading || st == StatusProcessing
}

// IsReady reports whether the customer can pick a method or pay.
func (s *Store) IsReady() bool {
	st := s.Status()
	return st == StatusReady || st == StatusMethodSelected
}

// CanRetry reports whether the current error offers a retry.
func (s *Store) CanRetry() bool {
	pe := s.Error()
	return pe != nil && pe.Recoverable
}

// transition applies a under the lock and, if the state was replaced, notifies
// subscribers and the status-change callback outside of it. guard runs under
// the lock before reducing; returning false vetoes the dispatch entirely.
func (s *Store) transition(a Action, guard func() bool) (State, bool) {
	s.mu.Lock()
	if guard != nil && !guard() {
		st := s.state
		s.mu.Unlock()
		return st, false
	}
	prev := s.state
	next := Reduce(prev, a)
	s.state = next
	subs := make([]func(State), len(s.subs))
	for i, sub := range s.subs {
		subs[i] = sub.fn
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	if next.Status != prev.Status {
		if obs.CheckoutTransitionsTotal != nil {
			obs.CheckoutTransitionsTotal.WithLabelValues(string(prev.Status), string(next.Status)).Inc()
		}
		s.logger.Debug().
			Str("action", string(a.Type)).
			Str("from_status", string(prev.Status)).
			Str("to_status", string(next.Status)).
			Msg("checkout_transition")
		if s.cb.OnStateChange != nil {
			s.cb.OnStateChange(next.Status)
		}
	}
	return next, true
}

func (s *Store) fail(kind ActionType, pe *PaymentError, gen uint64) {
	if _, ok := s.transition(Action{Type: kind, Err: pe}, s.current(gen)); !ok {
		s.logger.Debug().Str("code", pe.Code).Msg("stale_error_discarded")
		return
	}
	if s.cb.OnError != nil {
		s.cb.OnError(pe)
	}
}

// current returns a guard that only admits dispatches from generation gen.
func (s *Store) current(gen uint64) func() bool {
	return func() bool { return s.generation == gen }
}

func (s *Store) invalidate() bool {
	s.generation++
	return true
}

func buildResult(intent *PaymentIntent, method psp.Method, data PSPData, confirm *ConfirmResponse) PaymentResult {
	reference := data.Reference
	if reference == "" {
		reference = intent.Reference
	}
	if reference == "" {
		if ref, ok := intent.Metadata["reference"].(string); ok {
			reference = ref
		}
	}
	pspReference := data.PSPReference
	if pspReference == "" && confirm != nil {
		pspReference = confirm.ProviderRefID
	}
	return PaymentResult{
		PaymentID:     intent.ID,
		Reference:     reference,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		PaymentMethod: method,
		PSP:           intent.RecommendedPSP,
		PSPReference:  pspReference,
		Status:        "success",
		Metadata:      data.Fields(),
	}
}

// guarded runs a collaborator call and turns a panic into an error.
func guarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("checkout: collaborator panic: %v", r)
		}
	}()
	return fn()
}
