package notifier

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// Provision adds the machine account to rooms using a user's OAuth2 token.
// The returned error is a *ProvisionError whose Message can be shown as is.
func (n *Notifier) Provision(ctx context.Context, rooms string, oauthToken string) error {
	list := credentials.ParseRooms(rooms)
	started := n.now()
	err := Provision(ctx, n.deliver, n.creds.Load(), list, oauthToken)

	rec := Record{
		Action:   plugin.ActionAddMachine,
		Outcome:  plugin.OutcomeDelivered,
		Rooms:    list,
		Duration: n.now().Sub(started),
	}
	if err != nil {
		rec.Outcome = plugin.OutcomeFailed
		if pe, ok := IsProvisionError(err); ok && pe.Cause == nil {
			rec.Outcome = plugin.OutcomeRejected
		}
		rec.Detail = err.Error()
		logrus.Warnf("[notifier] add machine to %d room(s): %v", len(list), err)
	}
	n.observe(ctx, rec)
	return err
}

// Provision is the job-independent form of Notifier.Provision.
func Provision(ctx context.Context, d plugin.Deliverer, creds credentials.Credentials, rooms []string, oauthToken string) (err error) {
	if !credentials.Complete(creds) {
		return &ProvisionError{Message: msgCredentialsRequired}
	}
	if credentials.IsBlank(oauthToken) {
		return &ProvisionError{Message: msgTokenRequired}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &ProvisionError{Message: msgAddFailed, Cause: errors.Errorf("deliverer panic: %v", r)}
		}
	}()

	ok, derr := d.Deliver(ctx, plugin.Request{
		Action:      plugin.ActionAddMachine,
		Rooms:       rooms,
		OAuthToken:  oauthToken,
		Credentials: creds,
	})
	if derr != nil {
		return &ProvisionError{Message: msgAddFailed, Cause: derr}
	}
	if !ok {
		return &ProvisionError{Message: msgNotAdded, Cause: errNotConfirmed}
	}
	return nil
}

// ValidationKind grades a form value for the configuration surface.
type ValidationKind string

const (
	ValidationOK      ValidationKind = "ok"
	ValidationWarning ValidationKind = "warning"
	ValidationError   ValidationKind = "error"
)

// Validation is the result shown next to a form field.
type Validation struct {
	Kind    ValidationKind `json:"kind"`
	Message string         `json:"message,omitempty"`
}

// CheckRooms warns when a job has no rooms configured. It never blocks a
// save.
func CheckRooms(rooms string) Validation {
	if len(credentials.ParseRooms(rooms)) == 0 {
		return Validation{Kind: ValidationWarning, Message: "Spark rooms required"}
	}
	return Validation{Kind: ValidationOK}
}

// ProvisionResult converts a Provision error into a Validation.
func ProvisionResult(err error) Validation {
	if err == nil {
		return Validation{Kind: ValidationOK, Message: "Machine account added"}
	}
	if pe, ok := IsProvisionError(err); ok {
		return Validation{Kind: ValidationError, Message: pe.Message}
	}
	return Validation{Kind: ValidationError, Message: msgAddFailed}
}
