package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
)

const streamKeepAlive = 15 * time.Second

// Stream pushes a "state" server-sent event for the current state and again
// whenever it changes. Bursts are coalesced: each event carries the latest
// state at write time. The stream ends when the client goes away or the
// session is closed or evicted.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	wake := make(chan struct{}, 1)
	unsubscribe := sess.Store.Subscribe(func(checkout.State) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	var seq int
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			_ = writeState(w, seq+1, sess.Store.State())
			flusher.Flush()
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-wake:
			seq++
			if err := writeState(w, seq, sess.Store.State()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeState(w http.ResponseWriter, seq int, st checkout.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", seq, data)
	return err
}
