package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

type stubGateway struct {
	mu        sync.Mutex
	create    func(ctx context.Context, cfg checkout.Config, method psp.Method) (*checkout.IntentResponse, error)
	confirm   func() (*checkout.ConfirmResponse, error)
	cancelErr error

	created       []checkout.Config
	countries     []string
	hints         []checkout.RoutingHints
	methods       []psp.Method
	withSecret    []string
	withoutSecret []string
	cancelled     []string
}

func (g *stubGateway) CreatePaymentIntent(ctx context.Context, cfg checkout.Config, method psp.Method, country string, hints checkout.RoutingHints) (*checkout.IntentResponse, error) {
	g.mu.Lock()
	g.created = append(g.created, cfg)
	g.countries = append(g.countries, country)
	g.hints = append(g.hints, hints)
	g.methods = append(g.methods, method)
	create := g.create
	g.mu.Unlock()
	if create != nil {
		return create(ctx, cfg, method)
	}
	return &checkout.IntentResponse{
		ID:           "pi_1",
		ClientSecret: "secret_1",
		Amount:       cfg.Amount,
		Currency:     cfg.Currency,
		Status:       "pending",
		Provider:     "Hubtel-GH",
	}, nil
}

func (g *stubGateway) ConfirmPaymentIntent(_ context.Context, id, secret string) (*checkout.ConfirmResponse, error) {
	g.mu.Lock()
	g.withSecret = append(g.withSecret, id+":"+secret)
	g.mu.Unlock()
	return g.confirmResult(id)
}

func (g *stubGateway) ConfirmPayment(_ context.Context, id string) (*checkout.ConfirmResponse, error) {
	g.mu.Lock()
	g.withoutSecret = append(g.withoutSecret, id)
	g.mu.Unlock()
	return g.confirmResult(id)
}

func (g *stubGateway) confirmResult(id string) (*checkout.ConfirmResponse, error) {
	if g.confirm != nil {
		return g.confirm()
	}
	return &checkout.ConfirmResponse{ID: id, Status: "succeeded", ProviderRefID: "prov-1"}, nil
}

func (g *stubGateway) CancelPaymentIntent(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	return g.cancelErr
}

type recorder struct {
	mu       sync.Mutex
	statuses []checkout.Status
	errs     []*checkout.PaymentError
	results  []checkout.PaymentResult
	closed   int
}

func (r *recorder) callbacks() checkout.Callbacks {
	return checkout.Callbacks{
		OnStateChange: func(s checkout.Status) { r.mu.Lock(); r.statuses = append(r.statuses, s); r.mu.Unlock() },
		OnError:       func(pe *checkout.PaymentError) { r.mu.Lock(); r.errs = append(r.errs, pe); r.mu.Unlock() },
		OnSuccess:     func(res checkout.PaymentResult) { r.mu.Lock(); r.results = append(r.results, res); r.mu.Unlock() },
		OnClose:       func() { r.mu.Lock(); r.closed++; r.mu.Unlock() },
	}
}

func testConfig() checkout.Config {
	return checkout.Config{
		PublicKey: "pk_test",
		Amount:    5000,
		Currency:  "GHS",
		Email:     "ama@example.com",
		Reference: "ref-1",
	}
}

func newTestStore(t *testing.T, cfg checkout.Config, gw *stubGateway, rec *recorder) *checkout.Store {
	t.Helper()
	if rec == nil {
		rec = &recorder{}
	}
	s, err := checkout.NewStore(checkout.Options{Config: cfg, Gateway: gw, Callbacks: rec.callbacks()})
	require.NoError(t, err)
	return s
}

func TestNewStoreValidation(t *testing.T) {
	_, err := checkout.NewStore(checkout.Options{Config: testConfig()})
	require.Error(t, err)

	cfg := testConfig()
	cfg.Amount = 0
	_, err = checkout.NewStore(checkout.Options{Config: cfg, Gateway: &stubGateway{}})
	require.Error(t, err)

	cfg = testConfig()
	cfg.PaymentMethods = []psp.Method{"cheque"}
	_, err = checkout.NewStore(checkout.Options{Config: cfg, Gateway: &stubGateway{}})
	require.Error(t, err)
}

func TestInitializeReachesReady(t *testing.T) {
	gw := &stubGateway{}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)

	var seen []checkout.Status
	unsubscribe := s.Subscribe(func(st checkout.State) { seen = append(seen, st.Status) })
	defer unsubscribe()

	s.Initialize(context.Background(), "", checkout.InitOptions{PreferredProvider: "hubtel", AllowedProviders: []string{"hubtel", "paystack"}})

	require.Equal(t, []checkout.Status{checkout.StatusIdle, checkout.StatusLoading, checkout.StatusReady}, seen)
	require.Equal(t, []checkout.Status{checkout.StatusLoading, checkout.StatusReady}, rec.statuses)
	require.True(t, s.IsReady())
	intent := s.PaymentIntent()
	require.NotNil(t, intent)
	require.Equal(t, psp.Hubtel, intent.RecommendedPSP)
	require.Equal(t, "ref-1", intent.Reference)
	require.Equal(t, []string{"GH"}, gw.countries)
	require.Equal(t, checkout.RoutingHints{PreferredProviders: []string{"hubtel"}, AllowedProviders: []string{"hubtel", "paystack"}}, gw.hints[0])
	require.Empty(t, gw.methods[0])
}

func TestInitializeGeneratesReferenceAndSingleMethod(t *testing.T) {
	gw := &stubGateway{}
	cfg := testConfig()
	cfg.Reference = ""
	cfg.PaymentMethods = []psp.Method{psp.MobileMoney}
	s := newTestStore(t, cfg, gw, nil)

	s.Initialize(context.Background(), "", checkout.InitOptions{})

	require.Equal(t, psp.MobileMoney, gw.methods[0])
	require.Regexp(t, `^reevit_[0-9a-z]{26}$`, gw.created[0].Reference)
	require.Equal(t, gw.created[0].Reference, s.PaymentIntent().Reference)
	require.Equal(t, checkout.StatusMethodSelected, s.Status())
	require.Equal(t, psp.MobileMoney, s.SelectedMethod())
	require.Empty(t, s.Config().Reference)
}

func TestInitializeFailures(t *testing.T) {
	cases := []struct {
		name    string
		create  func(context.Context, checkout.Config, psp.Method) (*checkout.IntentResponse, error)
		code    string
		message string
	}{
		{
			name: "no data",
			create: func(context.Context, checkout.Config, psp.Method) (*checkout.IntentResponse, error) {
				return nil, nil
			},
			code:    checkout.CodeInitFailed,
			message: "No data received from API",
		},
		{
			name: "service error kept",
			create: func(context.Context, checkout.Config, psp.Method) (*checkout.IntentResponse, error) {
				return nil, checkout.NewPaymentError("UNAUTHORIZED", "bad key", nil)
			},
			code:    "UNAUTHORIZED",
			message: "bad key",
		},
		{
			name: "plain error wrapped",
			create: func(context.Context, checkout.Config, psp.Method) (*checkout.IntentResponse, error) {
				return nil, errors.New("dial tcp: refused")
			},
			code:    checkout.CodeInitFailed,
			message: "dial tcp: refused",
		},
		{
			name: "panic contained",
			create: func(context.Context, checkout.Config, psp.Method) (*checkout.IntentResponse, error) {
				panic("boom")
			},
			code: checkout.CodeInitFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			s := newTestStore(t, testConfig(), &stubGateway{create: tc.create}, rec)

			s.Initialize(context.Background(), "", checkout.InitOptions{})

			require.Equal(t, checkout.StatusError, s.Status())
			require.Nil(t, s.PaymentIntent())
			pe := s.Error()
			require.NotNil(t, pe)
			require.Equal(t, tc.code, pe.Code)
			if tc.message != "" {
				require.Equal(t, tc.message, pe.Message)
			}
			require.Len(t, rec.errs, 1)
			require.Same(t, pe, rec.errs[0])
			require.True(t, s.CanRetry())
		})
	}
}

func TestInitializeIgnoredUnlessIdleOrError(t *testing.T) {
	gw := &stubGateway{}
	s := newTestStore(t, testConfig(), gw, nil)
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	require.Len(t, gw.created, 1)

	calls := 0
	failing := &stubGateway{create: func(context.Context, checkout.Config, psp.Method) (*checkout.IntentResponse, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("down")
		}
		return &checkout.IntentResponse{ID: "pi_2", Currency: "GHS", Provider: "paystack"}, nil
	}}
	retry := newTestStore(t, testConfig(), failing, nil)
	retry.Initialize(context.Background(), "", checkout.InitOptions{})
	require.Equal(t, checkout.StatusError, retry.Status())
	retry.Initialize(context.Background(), "", checkout.InitOptions{})
	require.Equal(t, checkout.StatusReady, retry.Status())
	require.Nil(t, retry.Error())
}

func TestResetDiscardsInFlightIntent(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &stubGateway{create: func(_ context.Context, cfg checkout.Config, _ psp.Method) (*checkout.IntentResponse, error) {
		close(started)
		<-release
		return &checkout.IntentResponse{ID: "pi_late", Currency: cfg.Currency, Provider: "paystack"}, nil
	}}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)

	done := make(chan struct{})
	go func() {
		s.Initialize(context.Background(), "", checkout.InitOptions{})
		close(done)
	}()
	<-started
	s.Reset()
	close(release)
	<-done

	require.Equal(t, checkout.StatusIdle, s.Status())
	require.Nil(t, s.PaymentIntent())
	require.Empty(t, rec.errs)
}

func TestProcessPaymentWithClientSecret(t *testing.T) {
	gw := &stubGateway{}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	s.SelectMethod(psp.Card)

	s.HandlePspSuccess(context.Background(), checkout.PSPData{PSPReference: "hub-9", Metadata: map[string]any{"channel": "card"}})

	require.True(t, s.IsComplete())
	require.Equal(t, []string{"pi_1:secret_1"}, gw.withSecret)
	require.Empty(t, gw.withoutSecret)
	require.Len(t, rec.results, 1)
	res := rec.results[0]
	require.Equal(t, "pi_1", res.PaymentID)
	require.Equal(t, "ref-1", res.Reference)
	require.Equal(t, "hub-9", res.PSPReference)
	require.Equal(t, psp.Card, res.PaymentMethod)
	require.Equal(t, psp.Hubtel, res.PSP)
	require.Equal(t, "success", res.Status)
	require.Equal(t, map[string]any{"channel": "card", "pspReference": "hub-9"}, res.Metadata)
	require.Equal(t, &res, s.Result())
}

func TestProcessPaymentWithoutClientSecret(t *testing.T) {
	gw := &stubGateway{create: func(_ context.Context, cfg checkout.Config, _ psp.Method) (*checkout.IntentResponse, error) {
		return &checkout.IntentResponse{ID: "pi_3", Amount: cfg.Amount, Currency: cfg.Currency, Provider: "flutterwave"}, nil
	}}
	s := newTestStore(t, testConfig(), gw, nil)
	s.Initialize(context.Background(), psp.Card, checkout.InitOptions{})
	s.SelectMethod(psp.Card)

	s.ProcessPayment(context.Background(), checkout.PSPData{})

	require.Equal(t, []string{"pi_3"}, gw.withoutSecret)
	require.Equal(t, "prov-1", s.Result().PSPReference)
}

func TestProcessPaymentIgnoredWithoutMethod(t *testing.T) {
	gw := &stubGateway{}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)
	s.ProcessPayment(context.Background(), checkout.PSPData{})
	require.Equal(t, checkout.StatusIdle, s.Status())

	s.Initialize(context.Background(), "", checkout.InitOptions{})
	var notified int
	unsubscribe := s.Subscribe(func(checkout.State) { notified++ })
	defer unsubscribe()
	changes := len(rec.statuses)

	s.ProcessPayment(context.Background(), checkout.PSPData{})
	require.Equal(t, checkout.StatusReady, s.Status())
	require.Empty(t, gw.withSecret)
	require.Empty(t, gw.withoutSecret)
	require.Equal(t, 1, notified)
	require.Len(t, rec.statuses, changes)
	require.Empty(t, rec.errs)
	require.Empty(t, rec.results)
}

func TestProcessPaymentFailureRetriesThroughInitialize(t *testing.T) {
	gw := &stubGateway{confirm: func() (*checkout.ConfirmResponse, error) {
		return nil, errors.New("gateway timeout")
	}}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	s.SelectMethod(psp.MobileMoney)

	s.HandlePspSuccess(context.Background(), checkout.PSPData{})

	require.Equal(t, checkout.StatusError, s.Status())
	require.Equal(t, checkout.CodePaymentFailed, s.Error().Code)
	require.NotNil(t, s.PaymentIntent())
	require.Len(t, rec.errs, 1)

	// selecting again does not leave error; a fresh intent does
	s.SelectMethod(psp.Card)
	require.Equal(t, checkout.StatusError, s.Status())

	s.Initialize(context.Background(), "", checkout.InitOptions{})
	require.Equal(t, checkout.StatusReady, s.Status())
	require.Nil(t, s.Error())
	require.Len(t, gw.created, 2)
}

func TestHandlePspError(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, testConfig(), &stubGateway{}, rec)
	s.Initialize(context.Background(), "", checkout.InitOptions{})

	// ready ignores the failure but the callback still fires
	s.HandlePspError(checkout.NewPaymentError("PSP_ERROR", "cancelled", nil))
	require.Equal(t, checkout.StatusReady, s.Status())
	require.Len(t, rec.errs, 1)

	s.SelectMethod(psp.Card)
	s.HandlePspError(nil)
	require.Equal(t, checkout.StatusMethodSelected, s.Status())
	require.Nil(t, s.Error())
	require.Len(t, rec.errs, 2)
	require.Equal(t, "PSP_ERROR", rec.errs[1].Code)
}

// blockingConfirm parks ConfirmPaymentIntent until release is closed.
func blockingConfirm(gw *stubGateway) (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	gw.confirm = func() (*checkout.ConfirmResponse, error) {
		close(started)
		<-release
		return &checkout.ConfirmResponse{ID: "pi_1", Status: "succeeded"}, nil
	}
	return started, release
}

func TestPspErrorWhileConfirmingWins(t *testing.T) {
	gw := &stubGateway{}
	started, release := blockingConfirm(gw)
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	s.SelectMethod(psp.Card)

	done := make(chan struct{})
	go func() {
		s.ProcessPayment(context.Background(), checkout.PSPData{})
		close(done)
	}()
	<-started
	s.HandlePspError(checkout.NewPaymentError("PSP_ERROR", "cancelled by customer", nil))
	require.Equal(t, checkout.StatusError, s.Status())
	close(release)
	<-done

	require.Equal(t, checkout.StatusError, s.Status())
	require.Nil(t, s.Result())
	require.Empty(t, rec.results)
	require.Len(t, rec.errs, 1)
}

func TestResetOrCloseDiscardsInFlightConfirmation(t *testing.T) {
	for name, interrupt := range map[string]func(*checkout.Store){
		"reset": func(s *checkout.Store) { s.Reset() },
		"close": func(s *checkout.Store) { s.Close(context.Background()) },
	} {
		t.Run(name, func(t *testing.T) {
			gw := &stubGateway{}
			started, release := blockingConfirm(gw)
			rec := &recorder{}
			s := newTestStore(t, testConfig(), gw, rec)
			s.Initialize(context.Background(), "", checkout.InitOptions{})
			s.SelectMethod(psp.Card)

			done := make(chan struct{})
			go func() {
				s.ProcessPayment(context.Background(), checkout.PSPData{})
				close(done)
			}()
			<-started
			interrupt(s)
			close(release)
			<-done

			require.Equal(t, checkout.StatusIdle, s.Status())
			require.Nil(t, s.Result())
			require.Empty(t, rec.results)
			require.Empty(t, rec.errs)
		})
	}
}

func TestSelectMethodAgainNotifiesWithoutStatusChange(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, testConfig(), &stubGateway{}, rec)
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	s.SelectMethod(psp.Card)

	var notified []psp.Method
	unsubscribe := s.Subscribe(func(st checkout.State) { notified = append(notified, st.SelectedMethod) })
	defer unsubscribe()
	changes := len(rec.statuses)

	s.SelectMethod(psp.MobileMoney)
	s.SelectMethod(psp.Card)

	require.Equal(t, []psp.Method{psp.Card, psp.MobileMoney, psp.Card}, notified)
	require.Len(t, rec.statuses, changes)
	require.Equal(t, psp.Card, s.SelectedMethod())
}

func TestInitializeRejectsCurrencyMismatch(t *testing.T) {
	gw := &stubGateway{create: func(_ context.Context, cfg checkout.Config, _ psp.Method) (*checkout.IntentResponse, error) {
		return &checkout.IntentResponse{ID: "pi_x", Amount: cfg.Amount, Currency: "NGN", Provider: "paystack"}, nil
	}}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)

	s.Initialize(context.Background(), "", checkout.InitOptions{})

	require.Equal(t, checkout.StatusError, s.Status())
	require.Nil(t, s.PaymentIntent())
	require.Equal(t, checkout.CodeInvalidResponse, s.Error().Code)
	require.Equal(t, "NGN", s.Error().Details["received"])
	require.Len(t, rec.errs, 1)
}

func TestInitialPaymentIntentSeedsState(t *testing.T) {
	cfg := testConfig()
	cfg.InitialPaymentIntent = &checkout.PaymentIntent{ID: "pi_seed", Currency: "GHS", AvailableMethods: []psp.Method{psp.BankTransfer}}
	gw := &stubGateway{}
	s := newTestStore(t, cfg, gw, nil)

	require.Equal(t, checkout.StatusMethodSelected, s.Status())
	require.Equal(t, psp.BankTransfer, s.SelectedMethod())
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	require.Empty(t, gw.created)
}

func TestCloseCancelsUnfinishedIntent(t *testing.T) {
	gw := &stubGateway{cancelErr: errors.New("already expired")}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)
	s.Initialize(context.Background(), "", checkout.InitOptions{})

	s.Close(context.Background())

	require.Equal(t, []string{"pi_1"}, gw.cancelled)
	require.Equal(t, checkout.StatusIdle, s.Status())
	require.Nil(t, s.PaymentIntent())
	require.Equal(t, 1, rec.closed)
	require.Empty(t, rec.errs)
}

func TestCloseFromMethodSelectedSwallowsCancelFailure(t *testing.T) {
	gw := &stubGateway{cancelErr: errors.New("gateway timeout")}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	s.SelectMethod(psp.MobileMoney)

	s.Close(context.Background())

	require.Equal(t, []string{"pi_1"}, gw.cancelled)
	require.Equal(t, checkout.InitialState(), s.State())
	require.Equal(t, 1, rec.closed)
	require.Empty(t, rec.errs)
	require.Equal(t, checkout.StatusIdle, rec.statuses[len(rec.statuses)-1])
}

func TestCloseAfterSuccessSkipsCancel(t *testing.T) {
	gw := &stubGateway{}
	rec := &recorder{}
	s := newTestStore(t, testConfig(), gw, rec)
	s.Initialize(context.Background(), "", checkout.InitOptions{})
	s.SelectMethod(psp.Card)
	s.ProcessPayment(context.Background(), checkout.PSPData{})
	require.True(t, s.IsComplete())

	s.Close(context.Background())
	require.Empty(t, gw.cancelled)
	require.Equal(t, 1, rec.closed)
}

func TestSubscribeReplayAndUnsubscribe(t *testing.T) {
	s := newTestStore(t, testConfig(), &stubGateway{}, nil)
	s.Initialize(context.Background(), "", checkout.InitOptions{})

	var seen []checkout.Status
	unsubscribe := s.Subscribe(func(st checkout.State) { seen = append(seen, st.Status) })
	require.Equal(t, []checkout.Status{checkout.StatusReady}, seen)

	s.SelectMethod(psp.Card)
	unsubscribe()
	unsubscribe()
	s.Reset()
	require.Equal(t, []checkout.Status{checkout.StatusReady, checkout.StatusMethodSelected}, seen)
}

func TestCallbacksMayReadStore(t *testing.T) {
	var s *checkout.Store
	var observed []checkout.Status
	var err error
	s, err = checkout.NewStore(checkout.Options{
		Config:  testConfig(),
		Gateway: &stubGateway{},
		Callbacks: checkout.Callbacks{OnStateChange: func(checkout.Status) {
			observed = append(observed, s.Status())
		}},
	})
	require.NoError(t, err)

	s.Initialize(context.Background(), "", checkout.InitOptions{})
	require.Equal(t, []checkout.Status{checkout.StatusLoading, checkout.StatusReady}, observed)
}
