package checkout

import "github.com/noah-isme/reevit-checkout/internal/psp"

// ActionType enumerates the events that drive the checkout state machine.
type ActionType string

const (
	ActionInitStart      ActionType = "INIT_START"
	ActionInitSuccess    ActionType = "INIT_SUCCESS"
	ActionInitError      ActionType = "INIT_ERROR"
	ActionSelectMethod   ActionType = "SELECT_METHOD"
	ActionProcessStart   ActionType = "PROCESS_START"
	ActionProcessSuccess ActionType = "PROCESS_SUCCESS"
	ActionProcessError   ActionType = "PROCESS_ERROR"
	ActionReset          ActionType = "RESET"
	ActionClose          ActionType = "CLOSE"
)

// Action is a single event dispatched to the reducer. Only the payload field
// matching Type is read.
type Action struct {
	Type   ActionType
	Intent *PaymentIntent
	Method psp.Method
	Err    *PaymentError
	Result *PaymentResult
}

// Reduce returns the state that follows s after a. It performs no I/O. An
// action that is not valid for the current status returns s unchanged.
func Reduce(s State, a Action) State {
	switch a.Type {
	case ActionInitStart:
		if s.Status != StatusIdle && s.Status != StatusError {
			return s
		}
		s.Status = StatusLoading
		s.Error = nil
		return s

	case ActionInitSuccess:
		if s.Status != StatusLoading || a.Intent == nil {
			return s
		}
		return stateForIntent(a.Intent)

	case ActionInitError:
		if s.Status != StatusLoading {
			return s
		}
		s.Status = StatusError
		s.Error = a.Err
		s.PaymentIntent = nil
		s.SelectedMethod = ""
		return s

	case ActionSelectMethod:
		if s.Status != StatusReady && s.Status != StatusMethodSelected {
			return s
		}
		s.Status = StatusMethodSelected
		s.SelectedMethod = a.Method
		return s

	case ActionProcessStart:
		if s.Status != StatusMethodSelected {
			return s
		}
		s.Status = StatusProcessing
		s.Error = nil
		return s

	case ActionProcessSuccess:
		if s.Status != StatusProcessing || a.Result == nil {
			return s
		}
		s.Status = StatusSuccess
		s.Result = a.Result
		return s

	case ActionProcessError:
		if s.Status != StatusProcessing {
			return s
		}
		s.Status = StatusError
		s.Error = a.Err
		return s

	case ActionReset, ActionClose:
		return InitialState()

	default:
		return s
	}
}

// stateForIntent builds the post-initialisation state, auto-selecting the
// method when the intent offers exactly one.
func stateForIntent(intent *PaymentIntent) State {
	s := State{Status: StatusReady, PaymentIntent: intent}
	if len(intent.AvailableMethods) == 1 {
		s.Status = StatusMethodSelected
		s.SelectedMethod = intent.AvailableMethods[0]
	}
	return s
}
