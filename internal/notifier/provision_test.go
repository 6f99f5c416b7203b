package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/pkg/plugin"
	"github.com/patrickspencer/buildbat/pkg/plugin/mocks"
)

func TestProvisionPreconditions(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		creds credentials.Credentials
		token string
		want  string
	}{
		"blank token":         {creds: fullCreds(), token: "  ", want: "User OAuth2 token required"},
		"missing credentials": {creds: credentials.Credentials{MachineUser: "u"}, token: "tok", want: "Machine Credentials required"},
		"credentials first":   {creds: credentials.Credentials{}, token: "", want: "Machine Credentials required"},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			d := mocks.NewMockDeliverer(ctrl)
			d.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)
			rec := &recorder{}

			n := New(plugin.NotificationConfig{}, credentials.NewHolder(tc.creds, nil), d, WithObserver(rec))
			err := n.Provision(context.Background(), "room1", tc.token)
			require.Error(t, err)

			pe, ok := IsProvisionError(err)
			require.True(t, ok)
			assert.Equal(t, tc.want, pe.Message)
			require.Len(t, rec.recs, 1)
			assert.Equal(t, plugin.OutcomeRejected, rec.recs[0].Outcome)
		})
	}
}

func TestProvisionDelivers(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	d := mocks.NewMockDeliverer(ctrl)
	d.EXPECT().Deliver(gomock.Any(), plugin.Request{
		Action:      plugin.ActionAddMachine,
		Rooms:       []string{"r1", "r2"},
		OAuthToken:  "user-token",
		Credentials: fullCreds(),
	}).Return(true, nil)

	n := New(plugin.NotificationConfig{}, credentials.NewHolder(fullCreds(), nil), d)
	require.NoError(t, n.Provision(context.Background(), "r1,r2", "user-token"))
}

func TestProvisionFailures(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	d := mocks.NewMockDeliverer(ctrl)
	gomock.InOrder(
		d.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(false, nil),
		d.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(false, errors.New("401 Unauthorized")),
	)

	n := New(plugin.NotificationConfig{}, credentials.NewHolder(fullCreds(), nil), d)

	err := n.Provision(context.Background(), "r1", "tok")
	pe, ok := IsProvisionError(err)
	require.True(t, ok)
	assert.Contains(t, pe.Message, "Could not add Machine Account to one/more of the Rooms.")

	err = n.Provision(context.Background(), "r1", "tok")
	pe, ok = IsProvisionError(err)
	require.True(t, ok)
	assert.Equal(t, "Could not add Machine to Room", pe.Message)
	assert.Contains(t, err.Error(), "401 Unauthorized")
}

func TestCheckRooms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Validation{Kind: ValidationWarning, Message: "Spark rooms required"}, CheckRooms(" "))
	assert.Equal(t, ValidationOK, CheckRooms("room1").Kind)
}

func TestProvisionResult(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ValidationOK, ProvisionResult(nil).Kind)
	assert.Equal(t, Validation{Kind: ValidationError, Message: "User OAuth2 token required"},
		ProvisionResult(&ProvisionError{Message: msgTokenRequired}))
	assert.Equal(t, Validation{Kind: ValidationError, Message: "Could not add Machine to Room"},
		ProvisionResult(errors.New("other")))
}
