package plugin

// Result is the outcome of a build as computed by the build host.
type Result string

const (
	ResultSuccess  Result = "SUCCESS"
	ResultUnstable Result = "UNSTABLE"
	ResultFailure  Result = "FAILURE"
	ResultAborted  Result = "ABORTED"
	ResultNotBuilt Result = "NOT_BUILT"
)

// IsBroken reports whether the result selects the failure notification.
// Only FAILURE and UNSTABLE do; every other result counts as a success.
func (r Result) IsBroken() bool {
	return r == ResultFailure || r == ResultUnstable
}

// Trigger identifies which lifecycle notification fired.
type Trigger string

const (
	TriggerStart   Trigger = "start"
	TriggerFailure Trigger = "failure"
	TriggerSuccess Trigger = "success"
)

// Action is the operation requested from a Deliverer.
type Action string

const (
	ActionMessage    Action = "message"
	ActionAddMachine Action = "add_machine"
)

// Credentials is the shared machine account used for every Spark call.
type Credentials struct {
	MachineUser     string `yaml:"machine_user" json:"machine_user"`
	MachinePassword string `yaml:"machine_password" json:"machine_password"`
	BasicAuth       string `yaml:"basic_auth" json:"basic_auth"`
	OrgID           string `yaml:"org_id" json:"org_id"`
}

// Request is a single call to the delivery backend.
type Request struct {
	Action      Action
	Rooms       []string
	Message     string // ActionMessage only
	OAuthToken  string // ActionAddMachine only
	Credentials Credentials
}

// NotificationConfig is the per-job notification setup.
type NotificationConfig struct {
	Rooms          string `yaml:"rooms" json:"rooms"`
	StartMessage   string `yaml:"start_message" json:"start_message,omitempty"`
	FailMessage    string `yaml:"fail_message" json:"fail_message,omitempty"`
	SuccessMessage string `yaml:"success_message" json:"success_message,omitempty"`
	Start          bool   `yaml:"start" json:"start"`
	Fail           bool   `yaml:"fail" json:"fail"`
	Success        bool   `yaml:"success" json:"success"`
	AddURL         bool   `yaml:"add_url" json:"add_url"`
}

// Template returns the configured message template for the trigger.
func (c NotificationConfig) Template(t Trigger) string {
	switch t {
	case TriggerStart:
		return c.StartMessage
	case TriggerFailure:
		return c.FailMessage
	case TriggerSuccess:
		return c.SuccessMessage
	}
	return ""
}

// BuildContext is a Build whose variables were captured up front.
type BuildContext struct {
	Name   string
	URL    string
	Env    map[string]string
	Params map[string]string
}

func (b *BuildContext) DisplayName() string { return b.Name }
func (b *BuildContext) AbsoluteURL() string { return b.URL }

// Environment returns a copy of the captured environment.
func (b *BuildContext) Environment() (map[string]string, error) {
	return copyMap(b.Env), nil
}

// Parameters returns a copy of the captured build parameters.
func (b *BuildContext) Parameters() (map[string]string, error) {
	return copyMap(b.Params), nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
