package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/internal/realtime"
	"github.com/patrickspencer/buildbat/internal/store"
)

// Store is the persistence the API reads.
type Store interface {
	store.BuildStore
	store.DeliveryStore
}

// CredentialStore holds the shared machine account.
type CredentialStore interface {
	Load() credentials.Credentials
	Save(ctx context.Context, c credentials.Credentials) error
}

// API holds dependencies for all API handlers.
type API struct {
	Store       Store
	Events      *realtime.Broker
	Credentials CredentialStore
	GetConfig   func() *config.Config
	Jobs        func() []*config.Job
	NextRunTime func(name string) (time.Time, bool)
	// StartBuild queues a build and returns without waiting for it.
	StartBuild func(name string, params map[string]string) error
	// Provision adds the machine account to rooms with a user's token.
	Provision   func(ctx context.Context, rooms, oauthToken string) error
	ReadConsole func(jobName, buildID string) (string, error)
}

// RegisterRoutes registers all API and build page routes on r.
func (a *API) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/config", a.handleConfig).Methods(http.MethodGet)
	v1.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/credentials", a.handleGetCredentials).Methods(http.MethodGet)
	v1.HandleFunc("/credentials", a.handlePutCredentials).Methods(http.MethodPut)
	v1.HandleFunc("/rooms/check", a.handleCheckRooms).Methods(http.MethodGet)
	v1.HandleFunc("/rooms/machine", a.handleAddMachine).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", a.handleListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{name}", a.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{name}/build", a.handleStartBuild).Methods(http.MethodPost)
	v1.HandleFunc("/builds", a.handleListBuilds).Methods(http.MethodGet)
	v1.HandleFunc("/builds/{id}", a.handleGetBuild).Methods(http.MethodGet)
	v1.HandleFunc("/deliveries", a.handleListDeliveries).Methods(http.MethodGet)
	v1.HandleFunc("/events", a.handleEvents).Methods(http.MethodGet)

	r.HandleFunc("/builds/{job}/{id}/", a.handleBuildSummary).Methods(http.MethodGet)
	r.HandleFunc("/builds/{job}/{id}/console", a.handleBuildConsole).Methods(http.MethodGet)

	v1.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	v1.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.Errorf("[api] write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
