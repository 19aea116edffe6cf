package checkup

import (
	"github.com/google/uuid"

	"github.com/webcheckup/webcheckup/internal/domain/chat"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// CheckType identifies which probe strategy a check executes.
type CheckType string

const (
	TypePortScan     CheckType = "scan_ports"
	TypeLighthouse   CheckType = "lighthouse"
	TypeTechnologies CheckType = "technologies"
	TypeCookie       CheckType = "cookie"
	TypeNetwork      CheckType = "network"
)

// AllCheckTypes returns every check type in dispatch order. The order is
// fixed but carries no semantic meaning; checks complete independently.
func AllCheckTypes() []CheckType {
	return []CheckType{TypePortScan, TypeLighthouse, TypeTechnologies, TypeCookie, TypeNetwork}
}

// ParseCheckType converts a stored or user-supplied string into a CheckType.
func ParseCheckType(s string) (CheckType, error) {
	switch CheckType(s) {
	case TypePortScan, TypeLighthouse, TypeTechnologies, TypeCookie, TypeNetwork:
		return CheckType(s), nil
	}
	return "", sharedErrors.ErrInvalidCheckType
}

// Status represents a check's position in its lifecycle:
// created -> running -> completed | failed
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Check is one probe execution against a checkup's URL. Its status
// transitions are owned exclusively by the lifecycle that created it.
type Check struct {
	id                 string
	checkupID          string
	checkType          CheckType
	status             Status
	results            map[string]any
	resultsDescription string
	chat               *chat.Chat
}

// NewCheck creates a check in the created state.
func NewCheck(checkupID string, checkType CheckType) (*Check, error) {
	if checkupID == "" {
		return nil, sharedErrors.ErrMissingRequired
	}
	if _, err := ParseCheckType(string(checkType)); err != nil {
		return nil, err
	}

	return &Check{
		id:        uuid.NewString(),
		checkupID: checkupID,
		checkType: checkType,
		status:    StatusCreated,
	}, nil
}

// ReconstructCheck creates a check from persisted data.
func ReconstructCheck(id, checkupID string, checkType CheckType, status Status,
	results map[string]any, resultsDescription string) *Check {
	return &Check{
		id:                 id,
		checkupID:          checkupID,
		checkType:          checkType,
		status:             status,
		results:            results,
		resultsDescription: resultsDescription,
	}
}

// Business methods

// Start marks the check as running. It happens synchronously before the
// probe is dispatched.
func (c *Check) Start() error {
	if c.status != StatusCreated {
		return sharedErrors.ErrCheckNotCreated
	}
	c.status = StatusRunning
	return nil
}

// Complete records the probe's raw results and the summarizer's description
// and moves the check to its completed terminal state.
func (c *Check) Complete(results map[string]any, description string) error {
	if c.status.IsTerminal() {
		return sharedErrors.ErrCheckFinished
	}
	if c.status != StatusRunning {
		return sharedErrors.ErrCheckNotRunning
	}
	c.results = results
	c.resultsDescription = description
	c.status = StatusCompleted
	return nil
}

// Fail records the probe's failure cause and moves the check to its failed
// terminal state. The description stays absent.
func (c *Check) Fail(cause string) error {
	if c.status.IsTerminal() {
		return sharedErrors.ErrCheckFinished
	}
	if c.status != StatusRunning {
		return sharedErrors.ErrCheckNotRunning
	}
	c.results = FailurePayload(cause)
	c.status = StatusFailed
	return nil
}

// FailurePayload is the result payload stored for a failed check.
func FailurePayload(cause string) map[string]any {
	return map[string]any{"exception": cause}
}

// AttachChat links the check's conversation thread. Each check owns exactly
// one chat, created together with the check.
func (c *Check) AttachChat(ch *chat.Chat) {
	c.chat = ch
}

// Getters

func (c *Check) ID() string {
	return c.id
}

func (c *Check) CheckupID() string {
	return c.checkupID
}

func (c *Check) Type() CheckType {
	return c.checkType
}

func (c *Check) Status() Status {
	return c.status
}

func (c *Check) Results() map[string]any {
	return c.results
}

func (c *Check) ResultsDescription() string {
	return c.resultsDescription
}

func (c *Check) Chat() *chat.Chat {
	return c.chat
}
