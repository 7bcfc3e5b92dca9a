package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/reevit-checkout/internal/bridge"
	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/common"
	"github.com/noah-isme/reevit-checkout/internal/events"
	"github.com/noah-isme/reevit-checkout/internal/obs"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

const maxCallbackBytes = 64 << 10

var validate = validator.New()

// Handler exposes the session API.
type Handler struct {
	Registry  *Registry
	Gateway   checkout.Gateway
	Events    *events.Bus
	Replay    ReplayGuard
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

type createRequest struct {
	Config            checkout.Config `json:"config"`
	Method            string          `json:"method,omitempty"`
	PreferredProvider string          `json:"preferredProvider,omitempty"`
	AllowedProviders  []string        `json:"allowedProviders,omitempty" validate:"omitempty,dive,required"`
}

type retryRequest struct {
	Method            string   `json:"method,omitempty"`
	PreferredProvider string   `json:"preferredProvider,omitempty"`
	AllowedProviders  []string `json:"allowedProviders,omitempty" validate:"omitempty,dive,required"`
}

type methodRequest struct {
	Method string `json:"method" validate:"required"`
}

type sessionResponse struct {
	ID    string         `json:"id"`
	State checkout.State `json:"state"`
}

// Routes returns the router mounted at /v1/sessions.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{id}", func(s chi.Router) {
		s.Get("/", h.Get)
		s.Get("/stream", h.Stream)
		s.Post("/method", h.SelectMethod)
		s.Post("/retry", h.Retry)
		s.Get("/launch", h.Launch)
		s.Post("/psp/success", h.PSPSuccess)
		s.Post("/psp/error", h.PSPError)
		s.Post("/reset", h.Reset)
		s.Post("/close", h.Close)
	})
	return r
}

// Create builds a store for the posted config and initialises it.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid session request", validationDetails(err))
		return
	}
	method, ok := optionalMethod(w, req.Method)
	if !ok {
		return
	}

	id := NewID()
	logger := h.Logger.With().Str("session_id", id).Logger()
	store, err := checkout.NewStore(checkout.Options{
		Config:    req.Config,
		Gateway:   h.Gateway,
		Callbacks: h.callbacks(id, logger),
		Logger:    &logger,
	})
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid checkout config", validationDetails(err))
		return
	}
	sess := h.Registry.Add(id, store)

	if store.Status() == checkout.StatusIdle {
		// the customer may drop the connection; the intent should still be created
		ctx := context.WithoutCancel(r.Context())
		store.Initialize(ctx, method, checkout.InitOptions{
			PreferredProvider: req.PreferredProvider,
			AllowedProviders:  req.AllowedProviders,
		})
	}
	common.JSON(w, http.StatusCreated, sessionResponse{ID: sess.ID, State: store.State()})
}

// Retry negotiates a new intent for a session that failed or was reset. The
// body is optional and carries the same routing fields as Create.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req retryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid retry request", validationDetails(err))
		return
	}
	method, ok := optionalMethod(w, req.Method)
	if !ok {
		return
	}
	if st := sess.Store.Status(); st != checkout.StatusIdle && st != checkout.StatusError {
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "session cannot be retried in status "+string(st), nil)
		return
	}
	sess.Store.Initialize(context.WithoutCancel(r.Context()), method, checkout.InitOptions{
		PreferredProvider: req.PreferredProvider,
		AllowedProviders:  req.AllowedProviders,
	})
	common.JSON(w, http.StatusOK, sessionResponse{ID: sess.ID, State: sess.Store.State()})
}

// Get returns the current state.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, sessionResponse{ID: sess.ID, State: sess.Store.State()})
}

// SelectMethod records the customer's method choice.
func (h *Handler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req methodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "method is required", validationDetails(err))
		return
	}
	method, valid := psp.ResolveMethod(req.Method)
	if !valid {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unsupported payment method", map[string]string{"method": req.Method})
		return
	}
	sess.Store.SelectMethod(method)
	st := sess.Store.State()
	if st.Status != checkout.StatusMethodSelected || st.SelectedMethod != method {
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "method cannot be selected in status "+string(st.Status), nil)
		return
	}
	common.JSON(w, http.StatusOK, sessionResponse{ID: sess.ID, State: st})
}

// Launch returns the parameters for opening the recommended PSP.
func (h *Handler) Launch(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	intent, b, ok := h.bridgeFor(w, sess)
	if !ok {
		return
	}
	launch, err := b.Launch(*intent, sess.Store.Config(), sess.Store.SelectedMethod())
	if err != nil {
		writePaymentError(w, http.StatusUnprocessableEntity, err)
		return
	}
	common.JSON(w, http.StatusOK, launch)
}

// PSPSuccess feeds a PSP success callback to the store. Identical bodies for
// the same session are rejected as replays.
func (h *Handler) PSPSuccess(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	intent, b, ok := h.bridgeFor(w, sess)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}

	// the claim is kept only when the callback completes the payment
	key := callbackKey(sess.ID, raw)
	if h.Replay != nil {
		fresh, err := h.Replay.Acquire(r.Context(), key, h.replayTTL())
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("replay_guard_failed")
			common.JSONError(w, http.StatusServiceUnavailable, "REPLAY_GUARD_UNAVAILABLE", "callback could not be verified", nil)
			return
		}
		if !fresh {
			countCallback(b.Provider(), "replay")
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate callback", nil)
			return
		}
	}

	data, err := b.NormalizeSuccess(raw)
	var pe *checkout.PaymentError
	switch {
	case errors.As(err, &pe):
		countCallback(b.Provider(), "declined")
		sess.Store.HandlePspError(pe)
	case err != nil:
		countCallback(b.Provider(), "malformed")
		h.releaseCallback(r, key)
		common.JSONError(w, http.StatusBadRequest, "MALFORMED_CALLBACK", err.Error(), nil)
		return
	default:
		countCallback(b.Provider(), "accepted")
		zerolog.Ctx(r.Context()).Info().Str("intent_id", intent.ID).Str("psp_reference", data.PSPReference).Msg("psp_success_received")
		sess.Store.HandlePspSuccess(context.WithoutCancel(r.Context()), data)
	}
	st := sess.Store.State()
	if st.Status != checkout.StatusSuccess {
		h.releaseCallback(r, key)
	}
	common.JSON(w, http.StatusOK, sessionResponse{ID: sess.ID, State: st})
}

func (h *Handler) releaseCallback(r *http.Request, key string) {
	if h.Replay == nil {
		return
	}
	if err := h.Replay.Release(context.WithoutCancel(r.Context()), key); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("replay_release_failed")
	}
}

// PSPError feeds a PSP failure callback to the store.
func (h *Handler) PSPError(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	_, b, ok := h.bridgeFor(w, sess)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	countCallback(b.Provider(), "error")
	sess.Store.HandlePspError(b.NormalizeError(raw))
	common.JSON(w, http.StatusOK, sessionResponse{ID: sess.ID, State: sess.Store.State()})
}

// Reset returns the session to idle.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Store.Reset()
	common.JSON(w, http.StatusOK, sessionResponse{ID: sess.ID, State: sess.Store.State()})
}

// Close cancels the intent when unfinished and drops the session.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Store.Close(context.WithoutCancel(r.Context()))
	h.Registry.Remove(sess.ID)
	common.JSON(w, http.StatusOK, sessionResponse{ID: sess.ID, State: sess.Store.State()})
}

// EvictIdle closes and drops sessions idle for longer than ttl.
func (h *Handler) EvictIdle(ctx context.Context, ttl time.Duration) int {
	evicted := h.Registry.Evict(ttl)
	for _, sess := range evicted {
		sess.Store.Close(ctx)
		h.Logger.Info().Str("session_id", sess.ID).Time("last_seen", sess.LastSeen()).Msg("session_evicted")
	}
	return len(evicted)
}

// RunEvictor calls EvictIdle every interval until ctx is done.
func (h *Handler) RunEvictor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.EvictIdle(ctx, ttl)
		}
	}
}

func (h *Handler) callbacks(id string, logger zerolog.Logger) checkout.Callbacks {
	emit := func(topic string, payload any) {
		if h.Events == nil {
			return
		}
		if _, err := h.Events.Emit(context.Background(), topic, id, payload); err != nil {
			logger.Warn().Err(err).Str("topic", topic).Msg("event_emit_failed")
		}
	}
	return checkout.Callbacks{
		OnStateChange: func(status checkout.Status) {
			emit(events.TopicStatusChanged, map[string]any{"status": status})
		},
		OnSuccess: func(result checkout.PaymentResult) {
			emit(events.TopicSucceeded, result)
		},
		OnError: func(pe *checkout.PaymentError) {
			emit(events.TopicFailed, pe)
		},
		OnClose: func() {
			emit(events.TopicClosed, map[string]any{})
		},
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.NewAppError("NOT_FOUND", "session not found", http.StatusNotFound, err))
		return nil, false
	}
	return sess, true
}

func (h *Handler) bridgeFor(w http.ResponseWriter, sess *Session) (*checkout.PaymentIntent, bridge.Bridge, bool) {
	intent := sess.Store.PaymentIntent()
	if intent == nil {
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "session has no payment intent", map[string]string{"status": string(sess.Store.Status())})
		return nil, nil, false
	}
	b, err := bridge.ForIntent(*intent)
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "UNSUPPORTED_PSP", err.Error(), nil)
		return nil, nil, false
	}
	return intent, b, true
}

func (h *Handler) replayTTL() time.Duration {
	if h.ReplayTTL <= 0 {
		return 24 * time.Hour
	}
	return h.ReplayTTL
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		common.JSONError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "callback body too large", nil)
		return nil, false
	}
	return raw, true
}

func optionalMethod(w http.ResponseWriter, raw string) (psp.Method, bool) {
	if raw == "" {
		return "", true
	}
	m, ok := psp.ResolveMethod(raw)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unsupported payment method", map[string]string{"method": raw})
		return "", false
	}
	return m, true
}

func writePaymentError(w http.ResponseWriter, status int, err error) {
	pe := checkout.AsPaymentError(err, "LAUNCH_FAILED", "launch failed")
	common.JSON(w, status, map[string]any{"error": pe})
}

func countCallback(p psp.Provider, result string) {
	if obs.CallbackReplayTotal != nil {
		obs.CallbackReplayTotal.WithLabelValues(string(p), result).Inc()
	}
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"error": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = fmt.Sprintf("failed on %s", fe.Tag())
	}
	return out
}
