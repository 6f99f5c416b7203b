package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/internal/notifier"
	"github.com/patrickspencer/buildbat/internal/realtime"
)

type credentialsResponse struct {
	credentials.Credentials
	Complete bool `json:"complete"`
}

func (a *API) handleGetCredentials(w http.ResponseWriter, _ *http.Request) {
	if a.Credentials == nil {
		writeError(w, http.StatusServiceUnavailable, "credentials unavailable")
		return
	}
	c := a.Credentials.Load()
	writeJSON(w, http.StatusOK, credentialsResponse{
		Credentials: credentials.Masked(c),
		Complete:    credentials.Complete(c),
	})
}

// handlePutCredentials replaces the machine account. A masked or empty
// secret keeps the stored one, so a form that round-trips GET works.
func (a *API) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	if a.Credentials == nil {
		writeError(w, http.StatusServiceUnavailable, "credentials unavailable")
		return
	}
	var in credentials.Credentials
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	current := a.Credentials.Load()
	masked := credentials.Masked(current)
	if in.MachinePassword == "" || in.MachinePassword == masked.MachinePassword {
		in.MachinePassword = current.MachinePassword
	}
	if in.BasicAuth == "" || in.BasicAuth == masked.BasicAuth {
		in.BasicAuth = current.BasicAuth
	}

	if err := a.Credentials.Save(r.Context(), in); err != nil {
		logrus.Errorf("[api] save credentials: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save credentials")
		return
	}
	a.emitEvent(realtime.Event{Type: realtime.TypeCredentialsUpdated})

	saved := a.Credentials.Load()
	writeJSON(w, http.StatusOK, credentialsResponse{
		Credentials: credentials.Masked(saved),
		Complete:    credentials.Complete(saved),
	})
}

func (a *API) handleCheckRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, notifier.CheckRooms(r.URL.Query().Get("rooms")))
}

type addMachineRequest struct {
	Rooms      string `json:"rooms"`
	OAuthToken string `json:"oauth_token"`
}

// handleAddMachine always answers 200 with a validation; the form shows it
// next to the rooms field.
func (a *API) handleAddMachine(w http.ResponseWriter, r *http.Request) {
	if a.Provision == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning unavailable")
		return
	}
	var in addMachineRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := a.Provision(r.Context(), in.Rooms, in.OAuthToken)
	writeJSON(w, http.StatusOK, notifier.ProvisionResult(err))
}
