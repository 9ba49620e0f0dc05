package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	units "github.com/docker/go-units"
	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/cradlehq/cradle/pkg/log"
	"github.com/cradlehq/cradle/pkg/types"
)

const (
	// LabelManaged marks containers created by Cradle
	LabelManaged = "cradle.managed"

	// LabelChallenge records which challenge definition spawned the container
	LabelChallenge = "cradle.challenge_id"
)

// DockerAdapter implements Adapter against the Docker Engine API
type DockerAdapter struct {
	client   *client.Client
	endpoint string
}

// NewDockerAdapter connects to the engine at endpoint. An empty endpoint
// falls back to the environment (DOCKER_HOST et al).
func NewDockerAdapter(endpoint string) (Adapter, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if endpoint != "" {
		opts = append(opts, client.WithHost(endpoint))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	return &DockerAdapter{client: cli, endpoint: endpoint}, nil
}

// Close closes the engine client connection
func (d *DockerAdapter) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// CreateInstance creates and starts a container for the spec, publishing the
// exposed port on an engine-assigned host port
func (d *DockerAdapter) CreateInstance(ctx context.Context, spec CreateSpec) (string, error) {
	logger := log.WithComponent("runtime")

	resources, err := parseResources(spec.Limits)
	if err != nil {
		return "", fmt.Errorf("invalid resource limits: %w", err)
	}

	exposed := nat.Port(fmt.Sprintf("%d/tcp", spec.ExposedPort))
	exposedPorts := nat.PortSet{exposed: struct{}{}}
	portBindings := nat.PortMap{
		exposed: []nat.PortBinding{
			{
				HostIP:   "0.0.0.0",
				HostPort: "0", // engine assigns a free host port
			},
		},
	}

	var binds []string
	for hostPath, containerPath := range spec.Volumes {
		binds = append(binds, fmt.Sprintf("%s:%s", hostPath, containerPath))
	}

	config := &container.Config{
		Image:        spec.Image,
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			LabelManaged:   "true",
			LabelChallenge: spec.ChallengeID,
		},
	}
	cmd, err := parseCommand(spec.Command)
	if err != nil {
		return "", err
	}
	if len(cmd) > 0 {
		config.Cmd = cmd
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
		Resources:    resources,
	}

	name := fmt.Sprintf("cradle-%s-%s", spec.ChallengeID, uuid.NewString()[:8])

	created, err := d.client.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// Never leave a created-but-unstarted container behind
		if rmErr := d.Destroy(context.WithoutCancel(ctx), created.ID); rmErr != nil {
			logger.Error().Err(rmErr).Str("container_id", created.ID).
				Msg("failed to remove container after start failure")
		}
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	logger.Debug().Str("container_id", created.ID).Str("image", spec.Image).
		Str("challenge_id", spec.ChallengeID).Msg("container started")

	return created.ID, nil
}

// ResolveHostPort inspects the container and returns the host port bound to
// containerPort
func (d *DockerAdapter) ResolveHostPort(ctx context.Context, handle string, containerPort int) (int, error) {
	inspect, err := d.client.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return 0, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		return 0, fmt.Errorf("failed to inspect container %s: %w", handle, err)
	}

	if inspect.NetworkSettings == nil {
		return 0, fmt.Errorf("container %s: %w", handle, ErrPortNotBound)
	}

	exposed := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
	bindings := inspect.NetworkSettings.Ports[exposed]
	if len(bindings) == 0 {
		return 0, fmt.Errorf("container %s: %w", handle, ErrPortNotBound)
	}

	port, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("container %s has malformed host port %q: %w", handle, bindings[0].HostPort, ErrPortNotBound)
	}
	return port, nil
}

// IsRunning checks if a container is currently running. An unknown handle is
// reported as not running.
func (d *DockerAdapter) IsRunning(ctx context.Context, handle string) bool {
	inspect, err := d.client.ContainerInspect(ctx, handle)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

// Destroy force-removes the container. Idempotent: a missing container is
// not an error.
func (d *DockerAdapter) Destroy(ctx context.Context, handle string) error {
	err := d.client.ContainerRemove(ctx, handle, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		if client.IsErrConnectionFailed(err) {
			return fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		return fmt.Errorf("failed to remove container %s: %w", handle, err)
	}
	return nil
}

// ListImages returns all image references known to the engine
func (d *DockerAdapter) ListImages(ctx context.Context) ([]string, error) {
	summaries, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	var refs []string
	for _, summary := range summaries {
		refs = append(refs, summary.RepoTags...)
	}
	return refs, nil
}

// ListManaged returns all cradle-labeled containers, running or not
func (d *DockerAdapter) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	f := filters.NewArgs(filters.Arg("label", LabelManaged+"=true"))
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	managed := make([]ManagedContainer, 0, len(containers))
	for _, c := range containers {
		managed = append(managed, ManagedContainer{ID: c.ID, CreatedAt: time.Unix(c.Created, 0)})
	}
	return managed, nil
}

// CheckConnectivity pings the engine endpoint
func (d *DockerAdapter) CheckConnectivity(ctx context.Context) bool {
	_, err := d.client.Ping(ctx)
	return err == nil
}

// parseCommand shell-splits the challenge launch command so quoted arguments
// survive, e.g. ./chall --flag "two words". Empty commands yield nil, leaving
// the image entrypoint in charge.
func parseCommand(command string) ([]string, error) {
	if command == "" {
		return nil, nil
	}
	cmd, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("invalid launch command %q: %w", command, err)
	}
	return cmd, nil
}

// parseResources converts the configured caps into engine resource limits.
// Empty caps mean unconstrained.
func parseResources(limits types.ResourceLimits) (container.Resources, error) {
	var resources container.Resources

	if limits.Memory != "" {
		mem, err := units.RAMInBytes(limits.Memory)
		if err != nil {
			return resources, fmt.Errorf("memory cap %q: %w", limits.Memory, err)
		}
		resources.Memory = mem
	}

	if limits.CPU != "" {
		cores, err := strconv.ParseFloat(limits.CPU, 64)
		if err != nil || cores < 0 {
			return resources, fmt.Errorf("cpu cap %q is not a core count", limits.CPU)
		}
		resources.NanoCPUs = int64(cores * 1e9)
	}

	return resources, nil
}
