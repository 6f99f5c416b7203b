package api

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/store"
)

type buildResponse struct {
	ID          string            `json:"id"`
	JobName     string            `json:"job_name"`
	DisplayName string            `json:"display_name"`
	Status      string            `json:"status"`
	Result      string            `json:"result,omitempty"`
	ExitCode    int               `json:"exit_code"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
	OutputTail  string            `json:"output_tail,omitempty"`
	ErrorMsg    string            `json:"error_msg,omitempty"`
	Trigger     string            `json:"trigger"`
	Params      map[string]string `json:"params,omitempty"`
	URL         string            `json:"url"`
	CreatedAt   time.Time         `json:"created_at"`
}

func buildToResponse(b *store.Build) buildResponse {
	return buildResponse{
		ID:          b.ID,
		JobName:     b.JobName,
		DisplayName: b.DisplayName,
		Status:      b.Status,
		Result:      b.Result,
		ExitCode:    b.ExitCode,
		StartedAt:   b.StartedAt,
		FinishedAt:  b.FinishedAt,
		DurationMs:  b.DurationMs,
		OutputTail:  b.OutputTail,
		ErrorMsg:    b.ErrorMsg,
		Trigger:     b.Trigger,
		Params:      b.Params,
		URL:         b.URL,
		CreatedAt:   b.CreatedAt,
	}
}

type deliveryResponse struct {
	ID         string    `json:"id"`
	JobName    string    `json:"job_name,omitempty"`
	BuildName  string    `json:"build_name,omitempty"`
	BuildURL   string    `json:"build_url,omitempty"`
	Action     string    `json:"action"`
	Trigger    string    `json:"trigger,omitempty"`
	Outcome    string    `json:"outcome"`
	Rooms      []string  `json:"rooms"`
	Message    string    `json:"message,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func deliveryToResponse(d *store.Delivery) deliveryResponse {
	rooms := d.Rooms
	if rooms == nil {
		rooms = []string{}
	}
	return deliveryResponse{
		ID:         d.ID,
		JobName:    d.JobName,
		BuildName:  d.BuildName,
		BuildURL:   d.BuildURL,
		Action:     d.Action,
		Trigger:    d.Trigger,
		Outcome:    d.Outcome,
		Rooms:      rooms,
		Message:    d.Message,
		Detail:     d.Detail,
		DurationMs: d.DurationMs,
		CreatedAt:  d.CreatedAt,
	}
}

// listOpts reads job, limit and offset from the query string.
func listOpts(r *http.Request) store.ListOpts {
	q := r.URL.Query()
	opts := store.ListOpts{
		JobName: q.Get("job"),
		Limit:   50,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	return opts
}

func (a *API) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	builds, err := a.Store.ListBuilds(r.Context(), listOpts(r))
	if err != nil {
		logrus.Errorf("[api] list builds: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list builds")
		return
	}
	result := make([]buildResponse, 0, len(builds))
	for _, b := range builds {
		result = append(result, buildToResponse(b))
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	b, ok := a.lookupBuild(w, r, "")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, buildToResponse(b))
}

func (a *API) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := a.Store.ListDeliveries(r.Context(), listOpts(r))
	if err != nil {
		logrus.Errorf("[api] list deliveries: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	result := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		result = append(result, deliveryToResponse(d))
	}
	writeJSON(w, http.StatusOK, result)
}

type buildSummary struct {
	buildResponse
	ConsoleURL string             `json:"console_url"`
	Deliveries []deliveryResponse `json:"deliveries"`
}

// handleBuildSummary serves the page a notification's URL points at.
func (a *API) handleBuildSummary(w http.ResponseWriter, r *http.Request) {
	b, ok := a.lookupBuild(w, r, mux.Vars(r)["job"])
	if !ok {
		return
	}
	resp := buildSummary{
		buildResponse: buildToResponse(b),
		ConsoleURL:    b.URL + "console",
		Deliveries:    []deliveryResponse{},
	}
	deliveries, err := a.Store.ListDeliveries(r.Context(), store.ListOpts{JobName: b.JobName, Limit: 100})
	if err != nil {
		logrus.Errorf("[api] deliveries for %s: %v", b.ID, err)
	}
	for _, d := range deliveries {
		if d.BuildURL == b.URL {
			resp.Deliveries = append(resp.Deliveries, deliveryToResponse(d))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBuildConsole serves the build log as plain text, falling back to
// the stored output tail when no console file exists.
func (a *API) handleBuildConsole(w http.ResponseWriter, r *http.Request) {
	b, ok := a.lookupBuild(w, r, mux.Vars(r)["job"])
	if !ok {
		return
	}

	text := b.OutputTail
	if a.ReadConsole != nil {
		console, err := a.ReadConsole(b.JobName, b.ID)
		switch {
		case err == nil:
			text = console
		case errors.Is(err, os.ErrNotExist):
		default:
			logrus.Warnf("[api] read console %s/%s: %v", b.JobName, b.ID, err)
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// lookupBuild loads the build named by the id route variable. A non-empty
// job must match the build's job. It writes the error response itself.
func (a *API) lookupBuild(w http.ResponseWriter, r *http.Request, job string) (*store.Build, bool) {
	b, err := a.Store.GetBuild(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		logrus.Errorf("[api] get build: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get build")
		return nil, false
	}
	if b == nil || (job != "" && b.JobName != job) {
		writeError(w, http.StatusNotFound, "build not found")
		return nil, false
	}
	return b, true
}
