package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeContainer is one container tracked by the fake engine. A zero
// CreatedAt reads as arbitrarily old.
type FakeContainer struct {
	ChallengeID string
	Port        int
	Running     bool
	Managed     bool
	CreatedAt   time.Time
}

// FakeAdapter is an in-memory engine for tests. Failure injection fields are
// read on every call; set them before the call under test.
type FakeAdapter struct {
	mu         sync.Mutex
	containers map[string]*FakeContainer
	seq        int
	closed     bool

	Endpoint string

	// Failure injection
	CreateErr  error
	PortErr    error
	DestroyErr error
	Down       bool // every call behaves as if the endpoint is unreachable

	// NextPort is assigned to the next created container; 0 means 30000+seq
	NextPort int
}

// NewFakeAdapter creates an empty fake engine
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{containers: make(map[string]*FakeContainer)}
}

// FakeFactory returns a Factory producing the given adapter for any endpoint
func FakeFactory(a *FakeAdapter) Factory {
	return func(endpoint string) (Adapter, error) {
		a.Endpoint = endpoint
		return a, nil
	}
}

func (f *FakeAdapter) CreateInstance(ctx context.Context, spec CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Down {
		return "", fmt.Errorf("create: %w", ErrUnavailable)
	}
	if f.CreateErr != nil {
		return "", f.CreateErr
	}

	f.seq++
	handle := fmt.Sprintf("fake-%d", f.seq)
	port := f.NextPort
	if port == 0 {
		port = 30000 + f.seq
	}
	f.containers[handle] = &FakeContainer{
		ChallengeID: spec.ChallengeID,
		Port:        port,
		Running:     true,
		Managed:     true,
		CreatedAt:   time.Now(),
	}
	return handle, nil
}

func (f *FakeAdapter) ResolveHostPort(ctx context.Context, handle string, containerPort int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PortErr != nil {
		return 0, f.PortErr
	}
	c, ok := f.containers[handle]
	if !ok {
		return 0, fmt.Errorf("container %s: %w", handle, ErrPortNotBound)
	}
	return c.Port, nil
}

func (f *FakeAdapter) IsRunning(ctx context.Context, handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Down {
		return false
	}
	c, ok := f.containers[handle]
	return ok && c.Running
}

func (f *FakeAdapter) Destroy(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Down {
		return fmt.Errorf("destroy: %w", ErrUnavailable)
	}
	if f.DestroyErr != nil {
		return f.DestroyErr
	}
	delete(f.containers, handle)
	return nil
}

func (f *FakeAdapter) ListImages(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Down {
		return nil, fmt.Errorf("list images: %w", ErrUnavailable)
	}
	return []string{"ctf/baby-web:latest", "ctf/pwn:latest"}, nil
}

func (f *FakeAdapter) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Down {
		return nil, fmt.Errorf("list managed: %w", ErrUnavailable)
	}
	var managed []ManagedContainer
	for handle, c := range f.containers {
		if c.Managed {
			managed = append(managed, ManagedContainer{ID: handle, CreatedAt: c.CreatedAt})
		}
	}
	return managed, nil
}

func (f *FakeAdapter) CheckConnectivity(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Down
}

func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called
func (f *FakeAdapter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Stop marks the container as exited without removing it
func (f *FakeAdapter) Stop(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[handle]; ok {
		c.Running = false
	}
}

// AddContainer seeds a container directly, bypassing CreateInstance. Used to
// stage orphans for sweep tests.
func (f *FakeAdapter) AddContainer(handle string, c *FakeContainer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[handle] = c
}

// Exists reports whether the engine still has the container
func (f *FakeAdapter) Exists(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[handle]
	return ok
}

// Count returns the number of containers on the engine
func (f *FakeAdapter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}
