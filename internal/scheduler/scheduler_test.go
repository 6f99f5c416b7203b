package scheduler

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	_, err := ParseSchedule("*/5 * * * *")
	require.NoError(t, err)
	_, err = ParseSchedule("@hourly")
	require.NoError(t, err)
	_, err = ParseSchedule("not a schedule")
	assert.Error(t, err)
	_, err = ParseSchedule("* * * * * *")
	assert.Error(t, err, "seconds field is not accepted")
}

func TestAddReplaceRemove(t *testing.T) {
	t.Parallel()

	s := NewScheduler(func(string) {})
	require.NoError(t, s.AddJob("api", "@hourly"))
	require.NoError(t, s.AddJob("web", "@daily"))
	require.NoError(t, s.AddJob("api", "@every 1m"))
	assert.Error(t, s.AddJob("bad", "nope"))

	names := s.Jobs()
	sort.Strings(names)
	assert.Equal(t, []string{"api", "web"}, names)

	next, ok := s.NextRunTime("api")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), next, 2*time.Second)

	s.RemoveJob("api")
	_, ok = s.NextRunTime("api")
	assert.False(t, ok)
	s.RemoveJob("missing")
}

func TestSchedulerFires(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	s := NewScheduler(func(name string) {
		if name == "tick" {
			fired.Add(1)
		}
	})
	require.NoError(t, s.AddJob("tick", "@every 1s"))
	s.Start()
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return fired.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
