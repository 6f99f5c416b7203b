package plugin

import (
	"context"
	"io"
)

// Outcome reports what a lifecycle call did. It never fails the build.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"   // no trigger enabled for this event
	OutcomeRejected  Outcome = "rejected"  // rooms or credentials missing
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// Build is the host's view of a running build.
type Build interface {
	// DisplayName names the job in default messages, as in "api has failed".
	DisplayName() string
	// AbsoluteURL is the build summary location and ends with a slash.
	AbsoluteURL() string
	// Environment is substituted into templates before Parameters, so for a
	// name present in both the Environment value is used. A host that wants
	// parameters to override environment variables merges them into the
	// map it returns here, as runner.Vars.Environment does.
	Environment() (map[string]string, error)
	Parameters() (map[string]string, error)
}

// BuildNotifier is registered with a build host, which calls OnStart before
// the build runs and OnFinish once after. Lines for the build log go to out.
type BuildNotifier interface {
	OnStart(ctx context.Context, build Build, out io.Writer) Outcome
	OnFinish(ctx context.Context, build Build, result Result, out io.Writer) Outcome
	Provision(ctx context.Context, rooms string, oauthToken string) error
}

// Deliverer talks to the chat backend. A false return and an error are
// treated the same way by callers.
//
//go:generate mockgen -destination=mocks/deliverer.go -package=mocks . Deliverer
type Deliverer interface {
	Deliver(ctx context.Context, req Request) (bool, error)
}
