package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func full() Credentials {
	return Credentials{
		MachineUser:     "builder",
		MachinePassword: "s3cret",
		BasicAuth:       "Y2xpZW50OnNlY3JldA==",
		OrgID:           "org-1",
	}
}

func TestParseRooms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b", "c"}, ParseRooms("a, b\n c"))
	assert.Equal(t, []string{"room1"}, ParseRooms("  room1  "))
	assert.Empty(t, ParseRooms(" , ,\t"))
	assert.Empty(t, ParseRooms(""))
}

func TestCheckReady(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		rooms string
		creds func() Credentials
		want  error
	}{
		"ready":             {rooms: "room1", creds: full, want: nil},
		"empty rooms":       {rooms: "", creds: full, want: ErrNoDestinations},
		"whitespace rooms":  {rooms: "   ", creds: full, want: ErrNoDestinations},
		"separators only":   {rooms: ",,", creds: full, want: ErrNoDestinations},
		"missing user":      {rooms: "r", creds: func() Credentials { c := full(); c.MachineUser = ""; return c }, want: ErrMissingCredentials},
		"blank password":    {rooms: "r", creds: func() Credentials { c := full(); c.MachinePassword = " "; return c }, want: ErrMissingCredentials},
		"missing basicauth": {rooms: "r", creds: func() Credentials { c := full(); c.BasicAuth = ""; return c }, want: ErrMissingCredentials},
		"missing org":       {rooms: "r", creds: func() Credentials { c := full(); c.OrgID = ""; return c }, want: ErrMissingCredentials},
		"rooms checked first": {rooms: "", creds: func() Credentials { return Credentials{} }, want: ErrNoDestinations},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, CheckReady(tc.rooms, tc.creds()))
		})
	}
}

type memPersister struct {
	mu    sync.Mutex
	saved *Credentials
	err   error
}

func (m *memPersister) LoadCredentials(context.Context) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, m.err
}

func (m *memPersister) SaveCredentials(_ context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = &c
	return nil
}

func TestOpenPrefersPersisted(t *testing.T) {
	t.Parallel()

	saved := full()
	h, err := Open(context.Background(), &memPersister{saved: &saved}, Credentials{MachineUser: "seed"})
	require.NoError(t, err)
	assert.Equal(t, "builder", h.Load().MachineUser)

	h, err = Open(context.Background(), &memPersister{}, Credentials{MachineUser: "seed"})
	require.NoError(t, err)
	assert.Equal(t, "seed", h.Load().MachineUser)
}

func TestHolderSaveFailureKeepsOldValue(t *testing.T) {
	t.Parallel()

	p := &memPersister{err: errors.New("disk full")}
	h := NewHolder(full(), p)

	err := h.Save(context.Background(), Credentials{MachineUser: "other"})
	require.Error(t, err)
	assert.Equal(t, "builder", h.Load().MachineUser)
}

func TestHolderConcurrentReadersSeeWholeSets(t *testing.T) {
	t.Parallel()

	a := Credentials{MachineUser: "a", MachinePassword: "a", BasicAuth: "a", OrgID: "a"}
	b := Credentials{MachineUser: "b", MachinePassword: "b", BasicAuth: "b", OrgID: "b"}
	h := NewHolder(a, &memPersister{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c := h.Load()
				if c != a && c != b {
					t.Errorf("torn read: %+v", c)
					return
				}
			}
		}()
	}
	for j := 0; j < 200; j++ {
		next := a
		if j%2 == 0 {
			next = b
		}
		require.NoError(t, h.Save(context.Background(), next))
	}
	wg.Wait()
}

func TestMasked(t *testing.T) {
	t.Parallel()

	m := Masked(full())
	assert.Equal(t, "builder", m.MachineUser)
	assert.Equal(t, "********", m.MachinePassword)
	assert.Equal(t, "********", m.BasicAuth)
	assert.Equal(t, "", Masked(Credentials{}).MachinePassword)
}
