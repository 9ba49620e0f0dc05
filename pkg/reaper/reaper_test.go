package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cradlehq/cradle/pkg/config"
	"github.com/cradlehq/cradle/pkg/events"
	"github.com/cradlehq/cradle/pkg/manager"
	"github.com/cradlehq/cradle/pkg/runtime"
	"github.com/cradlehq/cradle/pkg/storage"
	"github.com/cradlehq/cradle/pkg/types"
)

func newTestManager(t *testing.T, expiration time.Duration) (*manager.Manager, *storage.BoltStore, *runtime.FakeAdapter) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fake := runtime.NewFakeAdapter()
	handle := config.NewHandle(store, runtime.FakeFactory(fake))
	require.NoError(t, handle.Load(&config.Snapshot{
		Endpoint:   "unix:///var/run/docker.sock",
		Hostname:   "localhost",
		Expiration: expiration,
		Limits:     types.ResourceLimits{Memory: "512m", CPU: "0.5"},
		Assignment: types.AssignmentUser,
	}))

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return manager.NewManager(store, store, handle, broker), store, fake
}

// An expired instance disappears within a couple of reap cycles.
func TestReaperDestroysExpiredInstances(t *testing.T) {
	mgr, store, fake := newTestManager(t, time.Second)

	require.NoError(t, store.PutChallenge(&types.Challenge{
		ID:    "web-01",
		Image: "ctf/web:latest",
		Port:  8000,
	}))
	_, err := mgr.Request(context.Background(), manager.Scope{UserID: "alice"}, "web-01")
	require.NoError(t, err)
	require.Equal(t, 1, fake.Count())

	r := NewReaper(mgr, 50*time.Millisecond)
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool {
		instances, err := store.ListInstances()
		return err == nil && len(instances) == 0 && fake.Count() == 0
	}, 5*time.Second, 50*time.Millisecond)
}

// The sweep cadence eventually reclaims containers nothing tracks.
func TestReaperSweepsOrphans(t *testing.T) {
	mgr, _, fake := newTestManager(t, time.Hour)

	fake.AddContainer("orphan-1", &runtime.FakeContainer{Running: true, Managed: true})

	r := NewReaper(mgr, 20*time.Millisecond)
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return !fake.Exists("orphan-1")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReaperStopWaitsForCycle(t *testing.T) {
	mgr, _, _ := newTestManager(t, time.Hour)

	r := NewReaper(mgr, 10*time.Millisecond)
	r.Start()

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestReaperDefaultInterval(t *testing.T) {
	mgr, _, _ := newTestManager(t, time.Hour)

	r := NewReaper(mgr, 0)
	assert.Equal(t, DefaultInterval, r.interval)
}
