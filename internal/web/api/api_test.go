package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/internal/notifier"
	"github.com/patrickspencer/buildbat/internal/realtime"
	"github.com/patrickspencer/buildbat/internal/store"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

type fakeDeliverer struct {
	ok  bool
	err error
}

func (f *fakeDeliverer) Deliver(context.Context, plugin.Request) (bool, error) {
	return f.ok, f.err
}

type fixture struct {
	api    *API
	router *mux.Router
	store  *store.SQLiteStore
	creds  *credentials.Holder
	queued map[string]map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "buildbat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:  s,
		creds:  credentials.NewHolder(credentials.Credentials{}, s),
		queued: map[string]map[string]string{},
	}
	jobs := []*config.Job{
		{Name: "api", Schedule: "@hourly", Command: "make deploy", Notify: plugin.NotificationConfig{Rooms: "room-a,room-b"}},
		{Name: "docs", Command: "make docs"},
	}
	d := &fakeDeliverer{ok: true}
	f.api = &API{
		Store:       s,
		Events:      realtime.NewBroker(),
		Credentials: f.creds,
		GetConfig: func() *config.Config {
			cfg := config.Default()
			cfg.Credentials = credentials.Credentials{MachineUser: "builder", MachinePassword: "pw"}
			return cfg
		},
		Jobs: func() []*config.Job { return jobs },
		NextRunTime: func(name string) (time.Time, bool) {
			if name == "api" {
				return time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), true
			}
			return time.Time{}, false
		},
		StartBuild: func(name string, params map[string]string) error {
			if name != "api" && name != "docs" {
				return ErrJobNotFound
			}
			f.queued[name] = params
			return nil
		},
		Provision: func(ctx context.Context, rooms, token string) error {
			return notifier.New(plugin.NotificationConfig{}, f.creds, d).Provision(ctx, rooms, token)
		},
		ReadConsole: func(job, id string) (string, error) {
			if id == "with-console" {
				return "Started api #1 (manual)\n", nil
			}
			return "", os.ErrNotExist
		},
	}
	f.router = mux.NewRouter()
	f.api.RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMethods(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigMasksSeedCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"pw"`)
	assert.Contains(t, rec.Body.String(), "builder")
}

func TestCredentialsRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	events, cancel := f.api.Events.Subscribe(realtime.Filter{})
	defer cancel()

	rec := f.do(t, http.MethodPut, "/api/v1/credentials",
		`{"machine_user":" builder ","machine_password":"s3cret","basic_auth":"abc","org_id":"org-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "builder", got["machine_user"])
	assert.Equal(t, "********", got["machine_password"])
	assert.Equal(t, true, got["complete"])
	assert.Equal(t, realtime.TypeCredentialsUpdated, (<-events).Type)

	// Sending back the masked form keeps the stored secrets.
	rec = f.do(t, http.MethodPut, "/api/v1/credentials",
		`{"machine_user":"builder2","machine_password":"********","basic_auth":"","org_id":"org-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	c := f.creds.Load()
	assert.Equal(t, "builder2", c.MachineUser)
	assert.Equal(t, "s3cret", c.MachinePassword)
	assert.Equal(t, "abc", c.BasicAuth)

	saved, err := f.store.LoadCredentials(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "builder2", saved.MachineUser)

	rec = f.do(t, http.MethodGet, "/api/v1/credentials", "")
	assert.NotContains(t, rec.Body.String(), "s3cret")

	rec = f.do(t, http.MethodPut, "/api/v1/credentials", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomsCheck(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/rooms/check?rooms=+", "")
	assert.JSONEq(t, `{"kind":"warning","message":"Spark rooms required"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/rooms/check?rooms=room-a", "")
	assert.JSONEq(t, `{"kind":"ok"}`, rec.Body.String())
}

func TestAddMachine(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/rooms/machine", `{"rooms":"room-a","oauth_token":"tok"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"kind":"error","message":"Machine Credentials required"}`, rec.Body.String())

	require.NoError(t, f.creds.Save(context.Background(), credentials.Credentials{
		MachineUser: "builder", MachinePassword: "pw", BasicAuth: "abc", OrgID: "org-1",
	}))
	rec = f.do(t, http.MethodPost, "/api/v1/rooms/machine", `{"rooms":"room-a","oauth_token":" "}`)
	assert.JSONEq(t, `{"kind":"error","message":"User OAuth2 token required"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/rooms/machine", `{"rooms":"room-a","oauth_token":"tok"}`)
	assert.JSONEq(t, `{"kind":"ok","message":"Machine account added"}`, rec.Body.String())
}

func TestJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.RecordBuild(ctx, &store.Build{
		JobName: "api", DisplayName: "api #1", Status: store.StatusCompleted, Result: "FAILURE",
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), Trigger: "schedule",
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[[]jobSummary](t, rec)
	require.Len(t, jobs, 2)
	assert.Equal(t, "api", jobs[0].Name)
	assert.Equal(t, []string{"room-a", "room-b"}, jobs[0].Rooms)
	require.NotNil(t, jobs[0].NextBuild)
	assert.Equal(t, "FAILURE", jobs[0].LastBuildResult)
	assert.Nil(t, jobs[1].NextBuild)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/api", "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[jobDetail](t, rec)
	require.NotNil(t, detail.Stats)
	assert.Equal(t, 1, detail.Stats.TotalBuilds)
	assert.Equal(t, "room-a,room-b", detail.Notify.Rooms)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartBuild(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/api/build", `{"params":{"TARGET":"prod"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]string{"TARGET": "prod"}, f.queued["api"])

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/docs/build", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, f.queued, "docs")

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/nope/build", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/api/build", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildPages(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	url := "http://ci.local/builds/api/with-console/"
	require.NoError(t, f.store.RecordBuild(ctx, &store.Build{
		ID: "with-console", JobName: "api", DisplayName: "api #1", Status: store.StatusCompleted,
		Result: "SUCCESS", StartedAt: time.Now().UTC(), Trigger: "manual", URL: url, OutputTail: "tail",
	}))
	require.NoError(t, f.store.RecordBuild(ctx, &store.Build{
		ID: "tail-only", JobName: "api", DisplayName: "api #2", Status: store.StatusCompleted,
		Result: "FAILURE", StartedAt: time.Now().UTC(), Trigger: "manual", OutputTail: "boom\n",
	}))
	require.NoError(t, f.store.RecordDelivery(ctx, &store.Delivery{
		JobName: "api", BuildName: "api #1", BuildURL: url, Action: "message", Trigger: "success",
		Outcome: "delivered", Rooms: []string{"room-a"}, Message: "api has succeeded",
	}))
	require.NoError(t, f.store.RecordDelivery(ctx, &store.Delivery{
		JobName: "api", BuildName: "api #2", BuildURL: "elsewhere", Action: "message", Trigger: "failure",
		Outcome: "failed", Rooms: []string{"room-a"},
	}))

	rec := f.do(t, http.MethodGet, "/builds/api/with-console/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[buildSummary](t, rec)
	assert.Equal(t, "SUCCESS", summary.Result)
	assert.Equal(t, url+"console", summary.ConsoleURL)
	require.Len(t, summary.Deliveries, 1)
	assert.Equal(t, "success", summary.Deliveries[0].Trigger)

	rec = f.do(t, http.MethodGet, "/builds/api/with-console/console", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Started api #1 (manual)\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/builds/api/tail-only/console", "")
	assert.Equal(t, "boom\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/builds/docs/with-console/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/builds?job=api&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]buildResponse](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/v1/builds/tail-only", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api #2", decode[buildResponse](t, rec).DisplayName)

	rec = f.do(t, http.MethodGet, "/api/v1/builds/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]deliveryResponse](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[statsResponse](t, rec)
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 2, stats.TotalBuilds)
	assert.Equal(t, 1, stats.FailedBuilds)
	assert.Equal(t, map[string]int{"delivered": 1, "failed": 1}, stats.Deliveries)
}

func TestEventsStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	f.api.Events.Publish(realtime.Event{Type: realtime.TypeBuildStarted, JobName: "api"})

	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	assert.Equal(t, "id: 1", lines[0])
	assert.Equal(t, "event: build.started", lines[1])
	assert.Contains(t, lines[2], `"job_name":"api"`)
}

func TestEventsStreamResumesAfterLastEventID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	f.api.Events.Publish(realtime.Event{Type: realtime.TypeBuildStarted, JobName: "api"})
	f.api.Events.Publish(realtime.Event{Type: realtime.TypeBuildStarted, JobName: "docs"})
	f.api.Events.Publish(realtime.Event{Type: realtime.TypeBuildCompleted, JobName: "api"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?job=api", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var ids []string
	for len(ids) < 1 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimSpace(line))
		}
	}
	assert.Equal(t, []string{"id: 3"}, ids)
}
