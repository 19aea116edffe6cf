package checkup

import "context"

// Repository defines the persistence gateway for checkups and checks.
// Terminal transitions commit result payload, description, and status in a
// single statement; the lifecycle does not retry storage failures.
type Repository interface {
	// SaveCheckup persists a new checkup.
	SaveCheckup(ctx context.Context, cu *Checkup) error

	// CheckupByID retrieves a checkup with its checks attached.
	CheckupByID(ctx context.Context, id string) (*Checkup, error)

	// CheckupsByOwner retrieves an owner's checkups, newest first,
	// without their check collections.
	CheckupsByOwner(ctx context.Context, ownerID string) ([]*Checkup, error)

	// SaveCheck persists a new check row.
	SaveCheck(ctx context.Context, c *Check) error

	// MarkCheckRunning transitions a persisted check to running.
	MarkCheckRunning(ctx context.Context, checkID string) error

	// CompleteCheckWithResults commits the original raw payload, the
	// summary text, and the completed status atomically.
	CompleteCheckWithResults(ctx context.Context, checkID string, results map[string]any, description string) error

	// CompleteCheckWithFailure commits the failure payload and the failed
	// status atomically.
	CompleteCheckWithFailure(ctx context.Context, checkID string, failure map[string]any) error

	// CheckByID retrieves a single check.
	CheckByID(ctx context.Context, id string) (*Check, error)
}
