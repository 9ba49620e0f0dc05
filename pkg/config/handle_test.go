package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cradlehq/cradle/pkg/runtime"
	"github.com/cradlehq/cradle/pkg/storage"
	"github.com/cradlehq/cradle/pkg/types"
)

func defaultSnapshot() *Snapshot {
	return &Snapshot{
		Endpoint:   "unix:///var/run/docker.sock",
		Hostname:   "localhost",
		Expiration: time.Hour,
		Limits:     types.ResourceLimits{Memory: "512m", CPU: "0.5"},
		Assignment: types.AssignmentUser,
	}
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadSeedsDefaults(t *testing.T) {
	store := newTestStore(t)
	handle := NewHandle(store, runtime.FakeFactory(runtime.NewFakeAdapter()))

	require.NoError(t, handle.Load(defaultSnapshot()))

	snap := handle.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "unix:///var/run/docker.sock", snap.Endpoint)
	assert.NotNil(t, handle.Runtime())

	// Defaults were persisted
	values, err := store.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, defaultSnapshot().Values(), values)
}

func TestLoadPrefersStoredSettings(t *testing.T) {
	store := newTestStore(t)
	stored := defaultSnapshot()
	stored.Hostname = "stored.example.com"
	require.NoError(t, store.PutSettings(stored.Values()))

	handle := NewHandle(store, runtime.FakeFactory(runtime.NewFakeAdapter()))
	require.NoError(t, handle.Load(defaultSnapshot()))

	assert.Equal(t, "stored.example.com", handle.Snapshot().Hostname)
}

func TestLoadReconnectFailureKeepsSnapshot(t *testing.T) {
	store := newTestStore(t)
	factory := func(endpoint string) (runtime.Adapter, error) {
		return nil, errors.New("connection refused")
	}
	handle := NewHandle(store, factory)

	err := handle.Load(defaultSnapshot())
	var reconnect *ReconnectError
	require.ErrorAs(t, err, &reconnect)

	// Settings are published even though the engine is unreachable
	assert.NotNil(t, handle.Snapshot())
	assert.Nil(t, handle.Runtime())
}

func TestApplyRejectsPartialUpdate(t *testing.T) {
	store := newTestStore(t)
	handle := NewHandle(store, runtime.FakeFactory(runtime.NewFakeAdapter()))
	require.NoError(t, handle.Load(defaultSnapshot()))

	values := defaultSnapshot().Values()
	delete(values, KeyAssignment)

	err := handle.Apply(values)
	assert.ErrorIs(t, err, ErrIncomplete)

	// Old snapshot still in effect
	assert.Equal(t, types.AssignmentUser, handle.Snapshot().Assignment)
}

func TestApplyPublishesAtomically(t *testing.T) {
	store := newTestStore(t)
	handle := NewHandle(store, runtime.FakeFactory(runtime.NewFakeAdapter()))
	require.NoError(t, handle.Load(defaultSnapshot()))

	values := defaultSnapshot().Values()
	values[KeyAssignment] = "team"
	values[KeyExpiration] = "900"
	require.NoError(t, handle.Apply(values))

	snap := handle.Snapshot()
	assert.Equal(t, types.AssignmentTeam, snap.Assignment)
	assert.Equal(t, 15*time.Minute, snap.Expiration)

	stored, err := store.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, "team", stored[KeyAssignment])
}

func TestApplyEndpointChangeSwapsAdapter(t *testing.T) {
	store := newTestStore(t)

	var adapters []*runtime.FakeAdapter
	factory := func(endpoint string) (runtime.Adapter, error) {
		a := runtime.NewFakeAdapter()
		a.Endpoint = endpoint
		adapters = append(adapters, a)
		return a, nil
	}
	handle := NewHandle(store, factory)
	require.NoError(t, handle.Load(defaultSnapshot()))
	require.Len(t, adapters, 1)

	values := defaultSnapshot().Values()
	values[KeyEndpoint] = "tcp://engine-2:2375"
	require.NoError(t, handle.Apply(values))

	require.Len(t, adapters, 2)
	assert.Equal(t, "tcp://engine-2:2375", adapters[1].Endpoint)
	assert.True(t, adapters[0].Closed())
	assert.Same(t, adapters[1], handle.Runtime().(*runtime.FakeAdapter))
}

func TestApplyUnchangedEndpointKeepsAdapter(t *testing.T) {
	store := newTestStore(t)

	calls := 0
	fake := runtime.NewFakeAdapter()
	factory := func(endpoint string) (runtime.Adapter, error) {
		calls++
		return fake, nil
	}
	handle := NewHandle(store, factory)
	require.NoError(t, handle.Load(defaultSnapshot()))

	values := defaultSnapshot().Values()
	values[KeyExpiration] = "7200"
	require.NoError(t, handle.Apply(values))

	assert.Equal(t, 1, calls)
	assert.False(t, fake.Closed())
}

func TestApplyReconnectFailureKeepsSettings(t *testing.T) {
	store := newTestStore(t)

	working := runtime.NewFakeAdapter()
	factory := func(endpoint string) (runtime.Adapter, error) {
		if endpoint == "tcp://unreachable:2375" {
			return nil, errors.New("connection refused")
		}
		return working, nil
	}
	handle := NewHandle(store, factory)
	require.NoError(t, handle.Load(defaultSnapshot()))

	values := defaultSnapshot().Values()
	values[KeyEndpoint] = "tcp://unreachable:2375"

	err := handle.Apply(values)
	var reconnect *ReconnectError
	require.ErrorAs(t, err, &reconnect)
	assert.Equal(t, "tcp://unreachable:2375", reconnect.Endpoint)

	// New settings stand; the previous adapter remains in service.
	assert.Equal(t, "tcp://unreachable:2375", handle.Snapshot().Endpoint)
	assert.NotNil(t, handle.Runtime())
}
