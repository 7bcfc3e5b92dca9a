package checkout_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

var allStatuses = []checkout.Status{
	checkout.StatusIdle,
	checkout.StatusLoading,
	checkout.StatusReady,
	checkout.StatusMethodSelected,
	checkout.StatusProcessing,
	checkout.StatusSuccess,
	checkout.StatusError,
}

func sampleIntent(methods ...psp.Method) *checkout.PaymentIntent {
	if len(methods) == 0 {
		methods = []psp.Method{psp.Card, psp.MobileMoney}
	}
	return &checkout.PaymentIntent{
		ID:               "pi_1",
		Amount:           5000,
		Currency:         "GHS",
		RecommendedPSP:   psp.Hubtel,
		AvailableMethods: methods,
		Reference:        "ref-1",
	}
}

func stateIn(status checkout.Status) checkout.State {
	s := checkout.State{Status: status}
	switch status {
	case checkout.StatusReady, checkout.StatusProcessing, checkout.StatusSuccess:
		s.PaymentIntent = sampleIntent()
	case checkout.StatusMethodSelected:
		s.PaymentIntent = sampleIntent()
		s.SelectedMethod = psp.Card
	case checkout.StatusError:
		// a failed confirmation keeps its intent and method
		s.PaymentIntent = sampleIntent()
		s.SelectedMethod = psp.Card
		s.Error = checkout.NewPaymentError("X", "boom", nil)
	}
	if status == checkout.StatusProcessing || status == checkout.StatusSuccess {
		s.SelectedMethod = psp.Card
	}
	return s
}

func TestReduceTransitionTable(t *testing.T) {
	pe := checkout.NewPaymentError("PAYMENT_FAILED", "declined", nil)
	result := &checkout.PaymentResult{PaymentID: "pi_1", Status: "success"}
	actions := map[checkout.ActionType]checkout.Action{
		checkout.ActionInitStart:      {Type: checkout.ActionInitStart},
		checkout.ActionInitSuccess:    {Type: checkout.ActionInitSuccess, Intent: sampleIntent()},
		checkout.ActionInitError:      {Type: checkout.ActionInitError, Err: pe},
		checkout.ActionSelectMethod:   {Type: checkout.ActionSelectMethod, Method: psp.MobileMoney},
		checkout.ActionProcessStart:   {Type: checkout.ActionProcessStart},
		checkout.ActionProcessSuccess: {Type: checkout.ActionProcessSuccess, Result: result},
		checkout.ActionProcessError:   {Type: checkout.ActionProcessError, Err: pe},
		checkout.ActionReset:          {Type: checkout.ActionReset},
		checkout.ActionClose:          {Type: checkout.ActionClose},
	}
	// status reached from each state, absent means unchanged
	want := map[checkout.ActionType]map[checkout.Status]checkout.Status{
		checkout.ActionInitStart: {
			checkout.StatusIdle:  checkout.StatusLoading,
			checkout.StatusError: checkout.StatusLoading,
		},
		checkout.ActionInitSuccess: {
			checkout.StatusLoading: checkout.StatusReady,
		},
		checkout.ActionInitError: {
			checkout.StatusLoading: checkout.StatusError,
		},
		checkout.ActionSelectMethod: {
			checkout.StatusReady:          checkout.StatusMethodSelected,
			checkout.StatusMethodSelected: checkout.StatusMethodSelected,
		},
		checkout.ActionProcessStart: {
			checkout.StatusMethodSelected: checkout.StatusProcessing,
		},
		checkout.ActionProcessSuccess: {
			checkout.StatusProcessing: checkout.StatusSuccess,
		},
		checkout.ActionProcessError: {
			checkout.StatusProcessing: checkout.StatusError,
		},
	}

	for kind, action := range actions {
		for _, status := range allStatuses {
			from := stateIn(status)
			got := checkout.Reduce(from, action)
			switch kind {
			case checkout.ActionReset, checkout.ActionClose:
				require.Equal(t, checkout.InitialState(), got, "%s from %s", kind, status)
				continue
			}
			if to, ok := want[kind][status]; ok {
				require.Equal(t, to, got.Status, "%s from %s", kind, status)
				continue
			}
			require.Equal(t, from, got, "%s from %s should be ignored", kind, status)
		}
	}
}

func TestReduceInitSuccessAutoSelectsSingleMethod(t *testing.T) {
	loading := checkout.State{Status: checkout.StatusLoading}

	got := checkout.Reduce(loading, checkout.Action{Type: checkout.ActionInitSuccess, Intent: sampleIntent(psp.MobileMoney)})
	require.Equal(t, checkout.StatusMethodSelected, got.Status)
	require.Equal(t, psp.MobileMoney, got.SelectedMethod)

	got = checkout.Reduce(loading, checkout.Action{Type: checkout.ActionInitSuccess, Intent: sampleIntent()})
	require.Equal(t, checkout.StatusReady, got.Status)
	require.Empty(t, got.SelectedMethod)
}

func TestReduceInitSuccessWithoutIntentIsIgnored(t *testing.T) {
	loading := checkout.State{Status: checkout.StatusLoading}
	require.Equal(t, loading, checkout.Reduce(loading, checkout.Action{Type: checkout.ActionInitSuccess}))
}

func TestReduceErrorsAndRetry(t *testing.T) {
	pe := checkout.NewPaymentError("INIT_FAILED", "down", nil)
	got := checkout.Reduce(checkout.State{Status: checkout.StatusLoading, PaymentIntent: sampleIntent()}, checkout.Action{Type: checkout.ActionInitError, Err: pe})
	require.Equal(t, checkout.StatusError, got.Status)
	require.Nil(t, got.PaymentIntent)
	require.Same(t, pe, got.Error)

	failed := checkout.Reduce(stateIn(checkout.StatusProcessing), checkout.Action{Type: checkout.ActionProcessError, Err: pe})
	require.NotNil(t, failed.PaymentIntent)

	restarted := checkout.Reduce(failed, checkout.Action{Type: checkout.ActionInitStart})
	require.Equal(t, checkout.StatusLoading, restarted.Status)
	require.Nil(t, restarted.Error)
}

func TestReduceIgnoresLateActions(t *testing.T) {
	pe := checkout.NewPaymentError("PSP_ERROR", "late", nil)

	selected := stateIn(checkout.StatusMethodSelected)
	require.Equal(t, selected, checkout.Reduce(selected, checkout.Action{Type: checkout.ActionProcessError, Err: pe}))

	failed := stateIn(checkout.StatusError)
	require.NotNil(t, failed.PaymentIntent)
	require.Equal(t, failed, checkout.Reduce(failed, checkout.Action{Type: checkout.ActionSelectMethod, Method: psp.MobileMoney}))
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	from := stateIn(checkout.StatusReady)
	snapshot := from
	_ = checkout.Reduce(from, checkout.Action{Type: checkout.ActionSelectMethod, Method: psp.Card})
	require.Equal(t, snapshot, from)
}
