package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/internal/store"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// ErrJobNotFound is returned by StartBuild for a name that is not loaded.
var ErrJobNotFound = errors.New("job not found")

type jobSummary struct {
	Name            string     `json:"name"`
	DisplayName     string     `json:"display_name"`
	Schedule        string     `json:"schedule,omitempty"`
	Command         string     `json:"command"`
	Enabled         bool       `json:"enabled"`
	Rooms           []string   `json:"rooms,omitempty"`
	NextBuild       *time.Time `json:"next_build,omitempty"`
	LastBuild       *time.Time `json:"last_build,omitempty"`
	LastBuildResult string     `json:"last_build_result,omitempty"`
}

type jobDetail struct {
	jobSummary
	WorkingDir        string                    `json:"working_dir,omitempty"`
	Timeout           string                    `json:"timeout,omitempty"`
	Env               map[string]string         `json:"env,omitempty"`
	Params            map[string]string         `json:"params,omitempty"`
	UnstableExitCodes []int                     `json:"unstable_exit_codes,omitempty"`
	Notify            plugin.NotificationConfig `json:"notify"`
	Stats             *jobStatsResp             `json:"stats,omitempty"`
}

type jobStatsResp struct {
	TotalBuilds   int        `json:"total_builds"`
	Successes     int        `json:"successes"`
	Failures      int        `json:"failures"`
	Unstable      int        `json:"unstable"`
	LastBuild     *time.Time `json:"last_build,omitempty"`
	AvgDurationMs float64    `json:"avg_duration_ms"`
}

func (a *API) jobs() []*config.Job {
	if a.Jobs == nil {
		return nil
	}
	return a.Jobs()
}

func (a *API) findJob(name string) *config.Job {
	for _, j := range a.jobs() {
		if j.Name == name {
			return j
		}
	}
	return nil
}

func (a *API) summarize(r *http.Request, j *config.Job) jobSummary {
	s := jobSummary{
		Name:        j.Name,
		DisplayName: j.Title(),
		Schedule:    j.Schedule,
		Command:     j.Command,
		Enabled:     j.IsEnabled(),
		Rooms:       credentials.ParseRooms(j.Notify.Rooms),
	}
	if a.NextRunTime != nil {
		if next, ok := a.NextRunTime(j.Name); ok {
			s.NextBuild = &next
		}
	}
	builds, err := a.Store.ListBuilds(r.Context(), store.ListOpts{JobName: j.Name, Limit: 1})
	if err != nil {
		logrus.Errorf("[api] latest build for %s: %v", j.Name, err)
	} else if len(builds) > 0 {
		s.LastBuild = &builds[0].StartedAt
		s.LastBuildResult = builds[0].Result
		if s.LastBuildResult == "" {
			s.LastBuildResult = builds[0].Status
		}
	}
	return s
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := a.jobs()
	result := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		result = append(result, a.summarize(r, j))
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j := a.findJob(mux.Vars(r)["name"])
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	d := jobDetail{
		jobSummary:        a.summarize(r, j),
		WorkingDir:        j.WorkingDir,
		Timeout:           j.Timeout,
		Env:               j.Env,
		Params:            j.Params,
		UnstableExitCodes: j.UnstableExitCodes,
		Notify:            j.Notify,
	}
	stats, err := a.Store.GetJobStats(r.Context(), j.Name)
	if err != nil {
		logrus.Errorf("[api] job stats for %s: %v", j.Name, err)
	} else {
		d.Stats = &jobStatsResp{
			TotalBuilds:   stats.TotalBuilds,
			Successes:     stats.Successes,
			Failures:      stats.Failures,
			Unstable:      stats.Unstable,
			LastBuild:     stats.LastBuild,
			AvgDurationMs: stats.AvgDurationMs,
		}
	}
	writeJSON(w, http.StatusOK, d)
}

type startBuildRequest struct {
	Params map[string]string `json:"params"`
}

func (a *API) handleStartBuild(w http.ResponseWriter, r *http.Request) {
	if a.StartBuild == nil {
		writeError(w, http.StatusServiceUnavailable, "builds unavailable")
		return
	}
	name := mux.Vars(r)["name"]

	var in startBuildRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := a.StartBuild(name, in.Params); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "job": name})
}
