package checkup

import (
	"net/url"
	"time"

	"github.com/google/uuid"

	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// Checkup represents one user-submitted URL to audit. It serves as an
// aggregate root owning its checks; the check collection grows as checks are
// attached during fan-out and is otherwise immutable.
type Checkup struct {
	id        string
	url       string
	ownerID   string
	createdAt time.Time
	checks    []*Check
}

// NewCheckup validates the target URL and creates a checkup.
func NewCheckup(rawURL, ownerID string) (*Checkup, error) {
	if ownerID == "" {
		return nil, sharedErrors.ErrEmptyOwner
	}
	if err := ValidateTargetURL(rawURL); err != nil {
		return nil, err
	}

	return &Checkup{
		id:        uuid.NewString(),
		url:       rawURL,
		ownerID:   ownerID,
		createdAt: time.Now().UTC(),
	}, nil
}

// ReconstructCheckup creates a checkup from persisted data.
func ReconstructCheckup(id, rawURL, ownerID string, createdAt time.Time, checks []*Check) *Checkup {
	return &Checkup{
		id:        id,
		url:       rawURL,
		ownerID:   ownerID,
		createdAt: createdAt,
		checks:    checks,
	}
}

// ValidateTargetURL rejects anything that is not an absolute http(s) URL
// with a host. Validation failures never reach the lifecycle machine.
func ValidateTargetURL(rawURL string) error {
	if rawURL == "" {
		return sharedErrors.ErrInvalidTargetURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return sharedErrors.ErrInvalidTargetURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return sharedErrors.ErrInvalidTargetURL
	}
	return nil
}

// AttachCheck appends a check to the aggregate. Insertion order is the
// dispatch order.
func (cu *Checkup) AttachCheck(c *Check) {
	cu.checks = append(cu.checks, c)
}

// CheckByID returns the attached check with the given id, if present.
func (cu *Checkup) CheckByID(id string) (*Check, bool) {
	for _, c := range cu.checks {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// Getters

func (cu *Checkup) ID() string {
	return cu.id
}

func (cu *Checkup) URL() string {
	return cu.url
}

func (cu *Checkup) OwnerID() string {
	return cu.ownerID
}

func (cu *Checkup) CreatedAt() time.Time {
	return cu.createdAt
}

func (cu *Checkup) Checks() []*Check {
	checksCopy := make([]*Check, len(cu.checks))
	copy(checksCopy, cu.checks)
	return checksCopy
}
