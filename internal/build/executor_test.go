package build

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/internal/metrics"
	"github.com/patrickspencer/buildbat/internal/realtime"
	"github.com/patrickspencer/buildbat/internal/runlog"
	"github.com/patrickspencer/buildbat/internal/store"
	"github.com/patrickspencer/buildbat/pkg/plugin"
	"github.com/patrickspencer/buildbat/pkg/plugin/mocks"
)

type harness struct {
	exec   *Executor
	store  *store.SQLiteStore
	logs   *runlog.Manager
	broker *realtime.Broker
	creds  *credentials.Holder
}

func newHarness(t *testing.T, d plugin.Deliverer) *harness {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "buildbat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := &harness{
		store:  s,
		logs:   runlog.NewManager(filepath.Join(dir, "builds"), 0, 0, 0),
		broker: realtime.NewBroker(),
		creds: credentials.NewHolder(credentials.Credentials{
			MachineUser:     "builder",
			MachinePassword: "s3cret",
			BasicAuth:       "Y2xpZW50OnNlY3JldA==",
			OrgID:           "org-1",
		}, nil),
	}
	h.exec = NewExecutor(Options{
		BaseURL:     "http://ci.local/",
		Store:       s,
		Credentials: h.creds,
		Deliverer:   d,
		Logs:        h.logs,
		Broker:      h.broker,
		Metrics:     metrics.New(),
	})
	return h
}

func drain(ch <-chan realtime.Event) []string {
	var types []string
	for {
		select {
		case evt := <-ch:
			types = append(types, evt.Type)
		default:
			return types
		}
	}
}

func TestRunNotifiesAndRecords(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	d := mocks.NewMockDeliverer(ctrl)
	h := newHarness(t, d)
	h.exec.SetJobs([]*config.Job{{
		Name:    "api",
		Command: `echo "deploying $TARGET as $BUILD_DISPLAY_NAME"`,
		Params:  map[string]string{"TARGET": "staging"},
		Notify: plugin.NotificationConfig{
			Rooms:          "room-a, room-b",
			Start:          true,
			Success:        true,
			SuccessMessage: "$JOB_NAME to $TARGET ok",
			AddURL:         true,
		},
	}})

	var sent []plugin.Request
	d.EXPECT().Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req plugin.Request) (bool, error) {
			sent = append(sent, req)
			return true, nil
		}).Times(2)

	events, cancel := h.broker.Subscribe(realtime.Filter{})
	defer cancel()

	var mirror bytes.Buffer
	b, err := h.exec.Run(context.Background(), Request{
		Job:     "api",
		Trigger: TriggerManual,
		Params:  map[string]string{"TARGET": "prod"},
		Console: &mirror,
	})
	require.NoError(t, err)

	assert.Equal(t, "SUCCESS", b.Result)
	assert.Equal(t, store.StatusCompleted, b.Status)
	assert.Equal(t, "api #1", b.DisplayName)
	assert.Equal(t, "http://ci.local/builds/api/"+b.ID+"/", b.URL)
	assert.Equal(t, "prod", b.Params["TARGET"])

	require.Len(t, sent, 2)
	assert.Equal(t, []string{"room-a", "room-b"}, sent[0].Rooms)
	assert.Equal(t, "Starting api "+b.URL+"console", sent[0].Message)
	assert.Equal(t, "api to prod ok "+b.URL, sent[1].Message)

	console, err := h.logs.ReadConsole("api", b.ID)
	require.NoError(t, err)
	assert.Equal(t, console, mirror.String())
	assert.Contains(t, console, "Started api #1 (manual)\n")
	assert.Contains(t, console, "deploying prod as api #1\n")
	assert.Contains(t, console, "Message to Spark Room(s) sent: api to prod ok")
	assert.Contains(t, console, "Finished: SUCCESS\n")

	stored, err := h.store.GetBuild(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "SUCCESS", stored.Result)

	deliveries, err := h.store.ListDeliveries(context.Background(), store.ListOpts{JobName: "api"})
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	var triggers []string
	for _, dl := range deliveries {
		triggers = append(triggers, dl.Trigger)
		assert.Equal(t, "delivered", dl.Outcome)
		assert.Equal(t, b.URL, dl.BuildURL)
		assert.Equal(t, "api #1", dl.BuildName)
	}
	assert.ElementsMatch(t, []string{"start", "success"}, triggers)

	assert.Equal(t, []string{
		realtime.TypeBuildStarted,
		realtime.TypeNotificationSent,
		realtime.TypeNotificationSent,
		realtime.TypeBuildCompleted,
	}, drain(events))
}

func TestRunUnstableExitUsesFailureBranch(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	d := mocks.NewMockDeliverer(ctrl)
	h := newHarness(t, d)
	h.exec.SetJobs([]*config.Job{{
		Name:              "lint",
		Command:           "exit 3",
		UnstableExitCodes: []int{3},
		Notify:            plugin.NotificationConfig{Rooms: "room-a", Fail: true, Success: true},
	}})

	d.EXPECT().Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req plugin.Request) (bool, error) {
			assert.Equal(t, "lint has failed", req.Message)
			return true, nil
		})

	b, err := h.exec.Run(context.Background(), Request{Job: "lint", Trigger: TriggerSchedule})
	require.NoError(t, err)
	assert.Equal(t, "UNSTABLE", b.Result)
	assert.Equal(t, 3, b.ExitCode)
}

func TestRunParamOverridesJobEnvInMessage(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	d := mocks.NewMockDeliverer(ctrl)
	h := newHarness(t, d)
	h.exec.SetJobs([]*config.Job{{
		Name:    "deploy",
		Command: "true",
		Env:     map[string]string{"TARGET": "from-env"},
		Notify:  plugin.NotificationConfig{Rooms: "room-a", Success: true, SuccessMessage: "deployed to ${TARGET}"},
	}})

	d.EXPECT().Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req plugin.Request) (bool, error) {
			assert.Equal(t, "deployed to from-param", req.Message)
			return true, nil
		})

	_, err := h.exec.Run(context.Background(), Request{
		Job:     "deploy",
		Trigger: TriggerManual,
		Params:  map[string]string{"TARGET": "from-param"},
	})
	require.NoError(t, err)
}

func TestRunNotificationProblemsNeverFailBuild(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	d := mocks.NewMockDeliverer(ctrl)
	h := newHarness(t, d)
	require.NoError(t, h.creds.Save(context.Background(), credentials.Credentials{}))
	h.exec.SetJobs([]*config.Job{{
		Name:    "api",
		Command: "true",
		Notify:  plugin.NotificationConfig{Rooms: "room-a", Start: true, Success: true},
	}})

	b, err := h.exec.Run(context.Background(), Request{Job: "api", Trigger: TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", b.Result)

	counts, err := h.store.DeliveryCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"rejected": 2}, counts)

	console, err := h.logs.ReadConsole("api", b.ID)
	require.NoError(t, err)
	assert.Contains(t, console, "Error Messaging Spark Room:")
}

func TestRunBuildNumbersAreSequential(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.exec.SetJobs([]*config.Job{{Name: "api", Command: "true"}})

	for i, want := range []string{"api #1", "api #2"} {
		b, err := h.exec.Run(context.Background(), Request{Job: "api", Trigger: TriggerManual})
		require.NoError(t, err, "build %d", i)
		assert.Equal(t, want, b.DisplayName)
	}

	// A fresh executor continues from the stored count.
	fresh := NewExecutor(Options{Store: h.store, Credentials: h.creds})
	fresh.SetJobs(h.exec.Jobs())
	b, err := fresh.Run(context.Background(), Request{Job: "api", Trigger: TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, "api #3", b.DisplayName)
}

func TestRunUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, err := h.exec.Run(context.Background(), Request{Job: "missing"})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestExecutorProvisionPublishesEvent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	d := mocks.NewMockDeliverer(ctrl)
	h := newHarness(t, d)
	d.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(true, nil)

	events, cancel := h.broker.Subscribe(realtime.Filter{})
	defer cancel()

	require.NoError(t, h.exec.Notifier().Provision(context.Background(), "room-a", "user-token"))
	assert.Equal(t, []string{realtime.TypeMachineProvisioned}, drain(events))

	deliveries, err := h.store.ListDeliveries(context.Background(), store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "add_machine", deliveries[0].Action)
}
