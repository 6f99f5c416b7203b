package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickspencer/buildbat/internal/realtime"
)

const pingInterval = 20 * time.Second

func (a *API) emitEvent(evt realtime.Event) {
	if a.Events != nil {
		a.Events.Publish(evt)
	}
}

// eventFilter reads ?job= and the resume point. A reconnecting browser
// sends Last-Event-ID; other clients may pass ?after=.
func eventFilter(r *http.Request) realtime.Filter {
	f := realtime.Filter{Job: r.URL.Query().Get("job")}
	after := r.Header.Get("Last-Event-ID")
	if after == "" {
		after = r.URL.Query().Get("after")
	}
	if n, err := strconv.ParseInt(after, 10, 64); err == nil && n > 0 {
		f.After = n
	}
	return f
}

// handleEvents streams broker events as server-sent events.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := a.Events.Subscribe(eventFilter(r))
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt realtime.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload)
	return err
}
