// Package credentials holds the shared Spark machine account and the gate
// that every outbound call has to pass.
package credentials

import (
	"context"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/pkg/errors"

	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// Credentials is the process-wide machine account.
type Credentials = plugin.Credentials

var (
	ErrNoDestinations     = errors.New("No rooms specified")
	ErrMissingCredentials = errors.New("Machine Account credentials required")
)

// IsBlank reports whether s is empty or only whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Complete reports whether all four fields are set.
func Complete(c Credentials) bool {
	return !IsBlank(c.MachineUser) && !IsBlank(c.MachinePassword) &&
		!IsBlank(c.BasicAuth) && !IsBlank(c.OrgID)
}

// ParseRooms splits a comma or whitespace separated room list.
func ParseRooms(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	rooms := make([]string, 0, len(fields))
	return append(rooms, fields...)
}

// CheckReady returns nil when a delivery to rooms may be attempted.
func CheckReady(rooms string, c Credentials) error {
	if len(ParseRooms(rooms)) == 0 {
		return ErrNoDestinations
	}
	if !Complete(c) {
		return ErrMissingCredentials
	}
	return nil
}

// Persister stores the credentials between restarts.
type Persister interface {
	LoadCredentials(ctx context.Context) (*Credentials, error)
	SaveCredentials(ctx context.Context, c Credentials) error
}

// Holder is the in-memory copy readers use. Loads never block and always
// see a whole credential set.
type Holder struct {
	current atomic.Pointer[Credentials]
	store   Persister
}

// NewHolder creates a Holder. store may be nil for a purely in-memory holder.
func NewHolder(initial Credentials, store Persister) *Holder {
	h := &Holder{store: store}
	h.current.Store(&initial)
	return h
}

// Open loads persisted credentials, falling back to seed when nothing has
// been saved yet.
func Open(ctx context.Context, store Persister, seed Credentials) (*Holder, error) {
	saved, err := store.LoadCredentials(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load credentials")
	}
	if saved == nil {
		return NewHolder(seed, store), nil
	}
	return NewHolder(*saved, store), nil
}

// Load returns the current credentials.
func (h *Holder) Load() Credentials {
	return *h.current.Load()
}

// Save persists c and then swaps it in.
func (h *Holder) Save(ctx context.Context, c Credentials) error {
	c = trimmed(c)
	if h.store != nil {
		if err := h.store.SaveCredentials(ctx, c); err != nil {
			return errors.Wrap(err, "save credentials")
		}
	}
	h.current.Store(&c)
	return nil
}

func trimmed(c Credentials) Credentials {
	return Credentials{
		MachineUser:     strings.TrimSpace(c.MachineUser),
		MachinePassword: c.MachinePassword,
		BasicAuth:       strings.TrimSpace(c.BasicAuth),
		OrgID:           strings.TrimSpace(c.OrgID),
	}
}

// Masked returns a copy safe to show in the configuration surface.
func Masked(c Credentials) Credentials {
	if c.MachinePassword != "" {
		c.MachinePassword = "********"
	}
	if c.BasicAuth != "" {
		c.BasicAuth = "********"
	}
	return c
}
