package store

import (
	"context"
	"time"

	"github.com/patrickspencer/buildbat/internal/credentials"
)

// Build is a single execution of a job.
type Build struct {
	ID          string
	JobName     string
	DisplayName string
	Status      string // "running", "completed"
	Result      string // SUCCESS, UNSTABLE, FAILURE, ABORTED, NOT_BUILT
	ExitCode    int
	StartedAt   time.Time
	FinishedAt  *time.Time
	DurationMs  int64
	OutputTail  string
	ErrorMsg    string
	Trigger     string // "schedule", "manual", "wrap"
	Params      map[string]string
	URL         string
	CreatedAt   time.Time
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Delivery is one notification or provisioning attempt.
type Delivery struct {
	ID         string
	JobName    string
	BuildName  string
	BuildURL   string
	Action     string
	Trigger    string
	Outcome    string
	Rooms      []string
	Message    string
	Detail     string
	DurationMs int64
	CreatedAt  time.Time
}

// ListOpts controls filtering and pagination for list queries.
type ListOpts struct {
	JobName string
	Limit   int
	Offset  int
}

// JobStats holds aggregate statistics for a job.
type JobStats struct {
	TotalBuilds   int
	Successes     int
	Failures      int
	Unstable      int
	LastBuild     *time.Time
	AvgDurationMs float64
}

// BuildStore persists builds.
type BuildStore interface {
	RecordBuild(ctx context.Context, b *Build) error
	GetBuild(ctx context.Context, id string) (*Build, error)
	ListBuilds(ctx context.Context, opts ListOpts) ([]*Build, error)
	GetJobStats(ctx context.Context, jobName string) (*JobStats, error)
}

// DeliveryStore persists the delivery history.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, opts ListOpts) ([]*Delivery, error)
	DeliveryCounts(ctx context.Context) (map[string]int, error)
}

// Store is everything the daemon persists.
type Store interface {
	BuildStore
	DeliveryStore
	credentials.Persister
	Close() error
}
