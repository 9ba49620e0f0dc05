package storage

import (
	"errors"
	"fmt"

	"github.com/cradlehq/cradle/pkg/types"
)

// ErrNotFound is wrapped by lookups that require the row to exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateOwner is the sentinel matched by errors.Is against
// DuplicateOwnerError
var ErrDuplicateOwner = errors.New("duplicate owner")

// DuplicateOwnerError is returned by InsertInstance when the insert would
// violate instance uniqueness: either a second instance for the same
// (challenge, owner) pair, or a second instance for the same owner across
// challenges under the single-instance assignment modes. It names the
// conflicting instance so callers can tell the user what to stop.
type DuplicateOwnerError struct {
	ContainerID string
	ChallengeID string
}

func (e *DuplicateOwnerError) Error() string {
	return fmt.Sprintf("owner already has instance %s for challenge %s", e.ContainerID, e.ChallengeID)
}

func (e *DuplicateOwnerError) Is(target error) bool {
	return target == ErrDuplicateOwner
}

// Store defines the interface for Cradle's durable state: the instance
// registry, the container settings rows and the challenge definitions.
// The registry is the single source of truth for what is running; the
// engine's own state is consulted only opportunistically by the manager.
type Store interface {
	// Instances. InsertInstance performs the uniqueness check and the write
	// in one transaction; it is the last line of defense against racing
	// creators and rejects rather than overwriting. Find lookups return
	// (nil, nil) when no row matches. UpdateExpiry never decreases the
	// stored expiry and returns the effective value.
	InsertInstance(inst *types.Instance, mode types.AssignmentMode) error
	GetInstance(containerID string) (*types.Instance, error)
	FindInstance(challengeID string, owner types.Owner) (*types.Instance, error)
	FindByOwner(owner types.Owner) (*types.Instance, error)
	UpdateExpiry(containerID string, expiresAt int64) (int64, error)
	DeleteInstance(containerID string) error
	ListInstances() ([]*types.Instance, error)

	// Settings rows (key/value)
	PutSettings(values map[string]string) error
	GetSettings() (map[string]string, error)

	// Challenge definitions
	PutChallenge(ch *types.Challenge) error
	GetChallenge(id string) (*types.Challenge, error)
	ListChallenges() ([]*types.Challenge, error)
	DeleteChallenge(id string) error

	// Utility
	Close() error
}
