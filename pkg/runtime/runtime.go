package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cradlehq/cradle/pkg/types"
)

var (
	// ErrUnavailable indicates the engine endpoint could not be reached
	ErrUnavailable = errors.New("container engine unavailable")

	// ErrPortNotBound indicates the container exists but never exposed its
	// port; callers must treat this as a failed creation requiring cleanup
	ErrPortNotBound = errors.New("container port not bound")
)

// CreateSpec describes the container to create for a challenge instance
type CreateSpec struct {
	ChallengeID string
	Image       string
	ExposedPort int
	Command     string
	Volumes     map[string]string // host path -> container path
	Limits      types.ResourceLimits
}

// ManagedContainer is one cradle-labeled container reported by the engine.
// CreatedAt lets the orphan sweep tell abandoned containers from ones whose
// registry row is still being written.
type ManagedContainer struct {
	ID        string
	CreatedAt time.Time
}

// Adapter is the capability set Cradle needs from a container engine. All
// operations may block on network I/O and none retry internally; retry policy
// belongs to the caller, as does timeout enforcement via the context.
type Adapter interface {
	// CreateInstance creates and starts a container, returning the engine's
	// handle. Errors wrap ErrUnavailable when the endpoint is unreachable;
	// any other failure is an engine-side rejection.
	CreateInstance(ctx context.Context, spec CreateSpec) (string, error)

	// ResolveHostPort returns the host port mapped to the container's
	// exposed port. Wraps ErrPortNotBound when the container failed to
	// expose it.
	ResolveHostPort(ctx context.Context, handle string, containerPort int) (int, error)

	// IsRunning reports whether the container is currently running. A
	// handle unknown to the engine is simply not running, never an error.
	IsRunning(ctx context.Context, handle string) bool

	// Destroy force-removes the container. Destroying an already-gone
	// container is not an error.
	Destroy(ctx context.Context, handle string) error

	// ListImages returns the image references present on the engine
	ListImages(ctx context.Context) ([]string, error)

	// ListManaged returns all engine containers carrying the cradle
	// management label, running or not. Used by the orphan sweep.
	ListManaged(ctx context.Context) ([]ManagedContainer, error)

	// CheckConnectivity reports whether the engine endpoint responds
	CheckConnectivity(ctx context.Context) bool

	// Close releases the engine connection
	Close() error
}

// Factory builds an adapter for an engine endpoint. The configuration layer
// uses it to re-initialize the adapter when an admin changes the endpoint,
// and tests use it to inject fakes.
type Factory func(endpoint string) (Adapter, error)
