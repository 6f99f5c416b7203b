package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/credentials"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleConfig(w http.ResponseWriter, _ *http.Request) {
	if a.GetConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "config provider unavailable")
		return
	}
	cfg := a.GetConfig()
	if cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "config unavailable")
		return
	}

	// The seed credentials never leave the process unmasked.
	out := *cfg
	out.Credentials = credentials.Masked(out.Credentials)
	writeJSON(w, http.StatusOK, out)
}

type statsResponse struct {
	TotalJobs      int            `json:"total_jobs"`
	EnabledJobs    int            `json:"enabled_jobs"`
	TotalBuilds    int            `json:"total_builds"`
	FailedBuilds   int            `json:"failed_builds"`
	UnstableBuilds int            `json:"unstable_builds"`
	Deliveries     map[string]int `json:"deliveries"`
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	jobs := a.jobs()
	resp.TotalJobs = len(jobs)
	for _, j := range jobs {
		if j.IsEnabled() {
			resp.EnabledJobs++
		}
		stats, err := a.Store.GetJobStats(r.Context(), j.Name)
		if err != nil {
			logrus.Errorf("[api] job stats for %s: %v", j.Name, err)
			continue
		}
		resp.TotalBuilds += stats.TotalBuilds
		resp.FailedBuilds += stats.Failures
		resp.UnstableBuilds += stats.Unstable
	}

	counts, err := a.Store.DeliveryCounts(r.Context())
	if err != nil {
		logrus.Errorf("[api] delivery counts: %v", err)
		counts = map[string]int{}
	}
	resp.Deliveries = counts
	writeJSON(w, http.StatusOK, resp)
}
