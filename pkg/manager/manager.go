package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cradlehq/cradle/pkg/config"
	"github.com/cradlehq/cradle/pkg/events"
	"github.com/cradlehq/cradle/pkg/log"
	"github.com/cradlehq/cradle/pkg/metrics"
	"github.com/cradlehq/cradle/pkg/runtime"
	"github.com/cradlehq/cradle/pkg/storage"
	"github.com/cradlehq/cradle/pkg/types"
)

const (
	// engineOpTimeout bounds inspect/destroy/list calls
	engineOpTimeout = 10 * time.Second

	// engineCreateTimeout bounds create-and-start. A create that times out is
	// reported as a creation failure; the orphan sweep reclaims the container
	// if the engine finished it anyway.
	engineCreateTimeout = 30 * time.Second
)

// ChallengeResolver is the narrow capability the manager needs from the
// challenge metadata store: given a challenge id, the image/port/command/
// volumes/connection-info it was defined with. Lookups for unknown ids wrap
// storage.ErrNotFound.
type ChallengeResolver interface {
	GetChallenge(id string) (*types.Challenge, error)
}

// Scope carries the caller's identities. The assignment mode picks which one
// the instance is tracked against.
type Scope struct {
	UserID string
	TeamID string
}

// Result is the success payload of a lifecycle operation
type Result struct {
	Status   types.InstanceStatus `json:"status"`
	Hostname string               `json:"hostname,omitempty"`
	Port     int                  `json:"port,omitempty"`
	Expires  int64                `json:"expires,omitempty"`
}

// StatusResult reports whether an instance is tracked for a scope
type StatusResult struct {
	Status      types.InstanceStatus `json:"status"`
	ContainerID string               `json:"container_id,omitempty"`
}

// InstanceView is a registry row decorated with a live running flag for the
// admin dashboard
type InstanceView struct {
	*types.Instance
	Running bool `json:"running"`
}

// PurgeFailure records one container that survived a purge
type PurgeFailure struct {
	ContainerID string `json:"container_id"`
	Error       string `json:"error"`
}

// PurgeReport aggregates a best-effort purge
type PurgeReport struct {
	Destroyed []string       `json:"destroyed"`
	Failures  []PurgeFailure `json:"failures,omitempty"`
}

// Manager orchestrates the instance lifecycle: it decides whether a new
// instance may be created, brokers engine calls through the adapter, and
// keeps the registry authoritative. It holds no lock across engine or
// registry I/O; creation races are linearized by the registry's atomic
// insert.
type Manager struct {
	store      storage.Store
	challenges ChallengeResolver
	handle     *config.Handle
	broker     *events.Broker
	logger     zerolog.Logger
}

// NewManager creates a lifecycle manager over the given collaborators
func NewManager(store storage.Store, challenges ChallengeResolver, handle *config.Handle, broker *events.Broker) *Manager {
	return &Manager{
		store:      store,
		challenges: challenges,
		handle:     handle,
		broker:     broker,
		logger:     log.WithComponent("manager"),
	}
}

// ownerFor resolves the scope to the identity the active mode tracks
// instances against
func ownerFor(scope Scope, mode types.AssignmentMode) (types.Owner, error) {
	switch mode {
	case types.AssignmentTeam:
		if scope.TeamID == "" {
			return types.Owner{}, fail(KindInvalidInput, "Invalid request", errors.New("team assignment mode requires a team id"))
		}
		return types.TeamOwner(scope.TeamID), nil
	default:
		if scope.UserID == "" {
			return types.Owner{}, fail(KindInvalidInput, "Invalid request", errors.New("missing user id"))
		}
		return types.UserOwner(scope.UserID), nil
	}
}

// adapter returns the current engine adapter or a runtime-unavailable
// failure when the engine has never been reachable
func (m *Manager) adapter() (runtime.Adapter, error) {
	rt := m.handle.Runtime()
	if rt == nil {
		return nil, fail(KindRuntimeUnavailable, "Container engine unavailable", errors.New("no engine connection"))
	}
	return rt, nil
}

func hostnameFor(ch *types.Challenge, snap *config.Snapshot) string {
	if ch.ConnectionInfo != "" {
		return ch.ConnectionInfo
	}
	return snap.Hostname
}

// Status reports whether the scope has a tracked instance for the challenge.
// Read-only; never mutates.
func (m *Manager) Status(ctx context.Context, scope Scope, challengeID string) (*StatusResult, error) {
	snap := m.handle.Snapshot()
	owner, err := ownerFor(scope, snap.Assignment)
	if err != nil {
		return nil, err
	}

	inst, err := m.store.FindInstance(challengeID, owner)
	if err != nil {
		return nil, fail(KindInternal, "An error has occurred", err)
	}

	if inst == nil {
		return &StatusResult{Status: types.StatusStopped}, nil
	}
	return &StatusResult{Status: types.StatusAlreadyRunning, ContainerID: inst.ContainerID}, nil
}

// Request is the creation path. Re-requesting a still-running instance is
// idempotent; a tracked-but-dead container is pruned and recreated; under
// the single-instance modes an instance on another challenge blocks the
// request, naming the conflicting challenge.
func (m *Manager) Request(ctx context.Context, scope Scope, challengeID string) (*Result, error) {
	snap := m.handle.Snapshot()
	logger := m.logger.With().Str("challenge_id", challengeID).Logger()

	ch, err := m.challenges.GetChallenge(challengeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(KindChallengeNotFound, "Challenge not found", err)
		}
		return nil, fail(KindInternal, "An error has occurred", err)
	}

	owner, err := ownerFor(scope, snap.Assignment)
	if err != nil {
		return nil, err
	}

	rt, err := m.adapter()
	if err != nil {
		return nil, err
	}

	existing, err := m.store.FindInstance(challengeID, owner)
	if err != nil {
		return nil, fail(KindInternal, "Error checking container status", err)
	}
	if existing != nil {
		runCtx, cancel := context.WithTimeout(ctx, engineOpTimeout)
		running := rt.IsRunning(runCtx, existing.ContainerID)
		cancel()

		if running {
			logger.Debug().Str("container_id", existing.ContainerID).Msg("instance already running")
			return &Result{
				Status:   types.StatusAlreadyRunning,
				Hostname: hostnameFor(ch, snap),
				Port:     existing.Port,
				Expires:  existing.ExpiresAt,
			}, nil
		}

		// The engine lost the container behind our back. Prune the stale
		// row and fall through to creation.
		logger.Info().Str("container_id", existing.ContainerID).Msg("tracked container gone, pruning stale row")
		if err := m.store.DeleteInstance(existing.ContainerID); err != nil {
			return nil, fail(KindPersistFailed, "Error checking container status", err)
		}
	}

	if snap.Assignment.SingleInstancePerOwner() {
		other, err := m.store.FindByOwner(owner)
		if err != nil {
			return nil, fail(KindInternal, "Error checking container status", err)
		}
		if other != nil && other.ChallengeID != challengeID {
			name := other.ChallengeID
			if otherCh, chErr := m.challenges.GetChallenge(other.ChallengeID); chErr == nil {
				name = otherCh.Name
			}
			logger.Info().Str("other_challenge", name).Msg("creation blocked by instance on another challenge")
			return nil, &Failure{
				Kind:     KindOtherInstanceActive,
				Message:  fmt.Sprintf("Stop other instance running (%s)", name),
				Conflict: name,
			}
		}
	}

	timer := metrics.NewTimer()

	createCtx, cancel := context.WithTimeout(ctx, engineCreateTimeout)
	handle, err := rt.CreateInstance(createCtx, runtime.CreateSpec{
		ChallengeID: ch.ID,
		Image:       ch.Image,
		ExposedPort: ch.Port,
		Command:     ch.Command,
		Volumes:     ch.Volumes,
		Limits:      snap.Limits,
	})
	cancel()
	if err != nil {
		kind := KindCreationFailed
		if errors.Is(err, runtime.ErrUnavailable) {
			kind = KindRuntimeUnavailable
		}
		metrics.CreationFailures.WithLabelValues(string(kind)).Inc()
		logger.Error().Err(err).Msg("engine rejected container creation")
		return nil, fail(kind, "Failed to create container", err)
	}

	portCtx, cancel := context.WithTimeout(ctx, engineOpTimeout)
	port, err := rt.ResolveHostPort(portCtx, handle, ch.Port)
	cancel()
	if err != nil {
		metrics.CreationFailures.WithLabelValues(string(KindPortUnavailable)).Inc()
		logger.Error().Err(err).Str("container_id", handle).Msg("container came up without a usable port")
		m.reclaimOrphan(handle, challengeID, "port unavailable")
		return nil, fail(KindPortUnavailable, "Could not get port", err)
	}

	now := time.Now()
	inst := &types.Instance{
		ContainerID: handle,
		ChallengeID: ch.ID,
		Owner:       owner,
		Port:        port,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(snap.Expiration).Unix(),
	}

	if err := m.store.InsertInstance(inst, snap.Assignment); err != nil {
		metrics.CreationFailures.WithLabelValues(string(KindPersistFailed)).Inc()

		// Logged apart from ordinary engine errors: without the reclaim
		// below this is a leaked container.
		logger.Error().Err(err).Str("container_id", handle).
			Msg("registry rejected insert, reclaiming just-created container")
		m.reclaimOrphan(handle, challengeID, "lost insert race")

		return nil, fail(KindPersistFailed, "Failed to save container information", err)
	}

	timer.ObserveDuration(metrics.CreateDuration)
	metrics.InstancesCreated.Inc()
	metrics.InstancesRunning.Inc()

	m.broker.Publish(events.New(events.EventInstanceCreated, "instance created", map[string]string{
		"container_id": handle,
		"challenge_id": ch.ID,
		"owner":        owner.Key(),
	}))
	logger.Info().Str("container_id", handle).Int("port", port).
		Int64("expires", inst.ExpiresAt).Msg("instance created")

	return &Result{
		Status:   types.StatusCreated,
		Hostname: hostnameFor(ch, snap),
		Port:     port,
		Expires:  inst.ExpiresAt,
	}, nil
}

// Renew resets the instance expiry to now + expiration duration. The reset
// is absolute, not additive, and never moves the expiry backwards.
func (m *Manager) Renew(ctx context.Context, scope Scope, challengeID string) (*Result, error) {
	snap := m.handle.Snapshot()

	ch, err := m.challenges.GetChallenge(challengeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(KindChallengeNotFound, "Challenge not found", err)
		}
		return nil, fail(KindInternal, "An error has occurred", err)
	}

	owner, err := ownerFor(scope, snap.Assignment)
	if err != nil {
		return nil, err
	}

	inst, err := m.store.FindInstance(challengeID, owner)
	if err != nil {
		return nil, fail(KindInternal, "An error has occurred", err)
	}
	if inst == nil {
		return nil, fail(KindInstanceNotFound, "Container not found", nil)
	}

	expires := time.Now().Add(snap.Expiration).Unix()
	effective, err := m.store.UpdateExpiry(inst.ContainerID, expires)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// A concurrent stop removed the row; deletion wins.
			return nil, fail(KindInstanceNotFound, "Container not found", err)
		}
		return nil, fail(KindPersistFailed, "Failed to renew container", err)
	}

	m.broker.Publish(events.New(events.EventInstanceRenewed, "instance renewed", map[string]string{
		"container_id": inst.ContainerID,
		"challenge_id": challengeID,
	}))
	m.logger.Debug().Str("container_id", inst.ContainerID).
		Int64("old_expires", inst.ExpiresAt).Int64("new_expires", effective).Msg("instance renewed")

	return &Result{
		Status:   types.StatusRenewed,
		Hostname: hostnameFor(ch, snap),
		Port:     inst.Port,
		Expires:  effective,
	}, nil
}

// Stop destroys the scope's instance for the challenge. Destroy-then-delete
// ordering: if the engine destroy fails the registry row is retained so the
// caller can retry rather than losing track of a possibly-live container.
func (m *Manager) Stop(ctx context.Context, scope Scope, challengeID string) error {
	snap := m.handle.Snapshot()

	owner, err := ownerFor(scope, snap.Assignment)
	if err != nil {
		return err
	}

	inst, err := m.store.FindInstance(challengeID, owner)
	if err != nil {
		return fail(KindInternal, "An error has occurred", err)
	}
	if inst == nil {
		return fail(KindInstanceNotFound, "No running container found.", nil)
	}

	return m.destroyInstance(ctx, inst, "stop")
}

// Reset stops the scope's instance when present, then requests a fresh one.
// A failed destroy aborts the reset; it never creates a second container for
// a possibly-live one.
func (m *Manager) Reset(ctx context.Context, scope Scope, challengeID string) (*Result, error) {
	snap := m.handle.Snapshot()

	owner, err := ownerFor(scope, snap.Assignment)
	if err != nil {
		return nil, err
	}

	inst, err := m.store.FindInstance(challengeID, owner)
	if err != nil {
		return nil, fail(KindInternal, "An error has occurred", err)
	}
	if inst != nil {
		if err := m.destroyInstance(ctx, inst, "reset"); err != nil {
			return nil, err
		}
	}

	return m.Request(ctx, scope, challengeID)
}

// AdminKill destroys an instance by raw container id, regardless of owner
func (m *Manager) AdminKill(ctx context.Context, containerID string) error {
	inst, err := m.store.GetInstance(containerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fail(KindInstanceNotFound, "Container not found", err)
		}
		return fail(KindInternal, "An error has occurred", err)
	}
	return m.destroyInstance(ctx, inst, "kill")
}

// AdminPurge destroys every tracked instance, best effort. Individual
// failures are collected, not fatal to the batch.
func (m *Manager) AdminPurge(ctx context.Context) (*PurgeReport, error) {
	instances, err := m.store.ListInstances()
	if err != nil {
		return nil, fail(KindInternal, "An error has occurred", err)
	}

	report := &PurgeReport{}
	for _, inst := range instances {
		if err := m.destroyInstance(ctx, inst, "purge"); err != nil {
			m.logger.Error().Err(err).Str("container_id", inst.ContainerID).Msg("purge: failed to destroy instance")
			report.Failures = append(report.Failures, PurgeFailure{
				ContainerID: inst.ContainerID,
				Error:       err.Error(),
			})
			continue
		}
		report.Destroyed = append(report.Destroyed, inst.ContainerID)
	}
	return report, nil
}

// ListInstances returns every registry row, newest first, with a live
// running flag resolved against the engine
func (m *Manager) ListInstances(ctx context.Context) ([]*InstanceView, error) {
	instances, err := m.store.ListInstances()
	if err != nil {
		return nil, fail(KindInternal, "An error has occurred", err)
	}

	rt := m.handle.Runtime()
	views := make([]*InstanceView, 0, len(instances))
	for _, inst := range instances {
		view := &InstanceView{Instance: inst}
		if rt != nil {
			runCtx, cancel := context.WithTimeout(ctx, engineOpTimeout)
			view.Running = rt.IsRunning(runCtx, inst.ContainerID)
			cancel()
		}
		views = append(views, view)
	}
	return views, nil
}

// Images lists image references on the engine
func (m *Manager) Images(ctx context.Context) ([]string, error) {
	rt, err := m.adapter()
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, engineOpTimeout)
	defer cancel()

	images, err := rt.ListImages(listCtx)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, runtime.ErrUnavailable) {
			kind = KindRuntimeUnavailable
		}
		return nil, fail(kind, "An error has occurred", err)
	}
	return images, nil
}

// Connected probes engine connectivity
func (m *Manager) Connected(ctx context.Context) bool {
	rt := m.handle.Runtime()
	if rt == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, engineOpTimeout)
	defer cancel()
	return rt.CheckConnectivity(probeCtx)
}

// ReapExpired destroys every instance past its expiry, using the same
// destroy procedure as an explicit stop. Returns how many were reaped.
func (m *Manager) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	instances, err := m.store.ListInstances()
	if err != nil {
		return 0, fmt.Errorf("failed to list instances: %w", err)
	}

	reaped := 0
	for _, inst := range instances {
		if !inst.Expired(now) {
			continue
		}
		if err := m.destroyInstance(ctx, inst, "reap"); err != nil {
			m.logger.Error().Err(err).Str("container_id", inst.ContainerID).Msg("failed to reap expired instance")
			continue
		}
		reaped++
	}
	return reaped, nil
}

// SweepOrphans destroys cradle-labeled engine containers the registry does
// not track. Backs up the best-effort reclaim done on failed creations.
func (m *Manager) SweepOrphans(ctx context.Context) (int, error) {
	rt := m.handle.Runtime()
	if rt == nil {
		return 0, nil
	}

	listCtx, cancel := context.WithTimeout(ctx, engineOpTimeout)
	managed, err := rt.ListManaged(listCtx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to list managed containers: %w", err)
	}

	instances, err := m.store.ListInstances()
	if err != nil {
		return 0, fmt.Errorf("failed to list instances: %w", err)
	}
	tracked := make(map[string]bool, len(instances))
	for _, inst := range instances {
		tracked[inst.ContainerID] = true
	}

	now := time.Now()
	reclaimed := 0
	for _, mc := range managed {
		if tracked[mc.ID] {
			continue
		}
		// An untracked container younger than the create timeout may be an
		// in-flight request whose registry row has not landed yet. Leave it
		// for the next sweep.
		if now.Sub(mc.CreatedAt) < engineCreateTimeout {
			continue
		}
		destroyCtx, cancel := context.WithTimeout(ctx, engineOpTimeout)
		err := rt.Destroy(destroyCtx, mc.ID)
		cancel()
		if err != nil {
			m.logger.Error().Err(err).Str("container_id", mc.ID).Msg("failed to destroy orphaned container")
			continue
		}
		metrics.OrphansReclaimed.Inc()
		m.broker.Publish(events.New(events.EventInstanceOrphaned, "orphaned container reclaimed", map[string]string{
			"container_id": mc.ID,
		}))
		m.logger.Warn().Str("container_id", mc.ID).Msg("reclaimed orphaned container")
		reclaimed++
	}
	return reclaimed, nil
}

// destroyInstance removes the container from the engine first, then the
// registry row. Engine failure retains the row.
func (m *Manager) destroyInstance(ctx context.Context, inst *types.Instance, cause string) error {
	rt, err := m.adapter()
	if err != nil {
		return err
	}

	destroyCtx, cancel := context.WithTimeout(ctx, engineOpTimeout)
	err = rt.Destroy(destroyCtx, inst.ContainerID)
	cancel()
	if err != nil {
		m.logger.Error().Err(err).Str("container_id", inst.ContainerID).Msg("engine destroy failed, retaining registry row")
		return fail(KindDestroyFailed, "Failed to kill container", err)
	}

	if err := m.store.DeleteInstance(inst.ContainerID); err != nil {
		return fail(KindPersistFailed, "Failed to update database", err)
	}

	metrics.InstancesDestroyed.WithLabelValues(cause).Inc()
	metrics.InstancesRunning.Dec()

	eventType := events.EventInstanceDestroyed
	if cause == "reap" {
		eventType = events.EventInstanceReaped
	}
	m.broker.Publish(events.New(eventType, "instance destroyed", map[string]string{
		"container_id": inst.ContainerID,
		"challenge_id": inst.ChallengeID,
		"cause":        cause,
	}))
	m.logger.Info().Str("container_id", inst.ContainerID).Str("cause", cause).Msg("instance destroyed")

	return nil
}

// reclaimOrphan best-effort destroys a container that was created but never
// made it into the registry. Runs on its own timeout so a cancelled request
// context cannot leave the leak in place; the periodic sweep is the backstop.
func (m *Manager) reclaimOrphan(handle, challengeID, reason string) {
	rt := m.handle.Runtime()
	if rt == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), engineOpTimeout)
	defer cancel()

	if err := rt.Destroy(ctx, handle); err != nil {
		m.logger.Error().Err(err).Str("container_id", handle).
			Msg("failed to reclaim orphaned container, sweep will retry")
		return
	}

	m.broker.Publish(events.New(events.EventInstanceOrphaned, "orphaned container reclaimed", map[string]string{
		"container_id": handle,
		"challenge_id": challengeID,
		"reason":       reason,
	}))
	m.logger.Warn().Str("container_id", handle).Str("reason", reason).Msg("reclaimed orphaned container")
}
