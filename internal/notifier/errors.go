package notifier

import "github.com/pkg/errors"

const (
	msgCredentialsRequired = "Machine Credentials required"
	msgTokenRequired       = "User OAuth2 token required"
	msgNotAdded            = "Could not add Machine Account to one/more of the Rooms.\n" +
		"Machine could already be present, or the room-id/Oauth2 token could be incorrect"
	msgAddFailed = "Could not add Machine to Room"
)

var errNotConfirmed = errors.New("delivery not confirmed by Spark")

// DeliveryError is a failed attempt to message rooms.
type DeliveryError struct {
	Cause error
}

func (e *DeliveryError) Error() string { return "deliver message: " + e.Cause.Error() }
func (e *DeliveryError) Unwrap() error { return e.Cause }

// ProvisionError is returned to the configuration surface when adding the
// machine account to rooms did not succeed. Message is meant for users.
type ProvisionError struct {
	Message string
	Cause   error
}

func (e *ProvisionError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *ProvisionError) Unwrap() error { return e.Cause }

// IsProvisionError reports whether err carries a user-facing message.
func IsProvisionError(err error) (*ProvisionError, bool) {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
