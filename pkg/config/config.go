package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cradlehq/cradle/pkg/types"
)

// Settings row keys. These are the durable key/value rows an admin updates;
// partial submissions are rejected wholesale, never merged.
const (
	KeyEndpoint   = "docker_base_url"
	KeyHostname   = "docker_hostname"
	KeyExpiration = "container_expiration"
	KeyMaxMemory  = "container_maxmemory"
	KeyMaxCPU     = "container_maxcpu"
	KeyAssignment = "docker_assignment"
)

// RequiredKeys lists every key an admin update must carry
var RequiredKeys = []string{
	KeyEndpoint,
	KeyHostname,
	KeyExpiration,
	KeyMaxMemory,
	KeyMaxCPU,
	KeyAssignment,
}

// ErrIncomplete indicates a settings update missing required keys
var ErrIncomplete = errors.New("incomplete configuration")

// Snapshot is an immutable view of the container settings. It is published
// atomically by the Handle; readers always see a fully-formed value, never a
// partially-updated one.
type Snapshot struct {
	Endpoint   string
	Hostname   string
	Expiration time.Duration
	Limits     types.ResourceLimits
	Assignment types.AssignmentMode
}

// FromValues validates and parses a settings document. Every required key
// must be present and well-formed; the error wraps ErrIncomplete and names
// the offending key.
func FromValues(values map[string]string) (*Snapshot, error) {
	for _, key := range RequiredKeys {
		if _, ok := values[key]; !ok {
			return nil, fmt.Errorf("%w: missing required field %s", ErrIncomplete, key)
		}
	}

	seconds, err := strconv.Atoi(values[KeyExpiration])
	if err != nil || seconds <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive integer of seconds", ErrIncomplete, KeyExpiration)
	}

	mode := types.AssignmentMode(values[KeyAssignment])
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %s must be one of user, team, unlimited", ErrIncomplete, KeyAssignment)
	}

	return &Snapshot{
		Endpoint:   values[KeyEndpoint],
		Hostname:   values[KeyHostname],
		Expiration: time.Duration(seconds) * time.Second,
		Limits: types.ResourceLimits{
			Memory: values[KeyMaxMemory],
			CPU:    values[KeyMaxCPU],
		},
		Assignment: mode,
	}, nil
}

// Values returns the snapshot as settings rows, inverse of FromValues
func (s *Snapshot) Values() map[string]string {
	return map[string]string{
		KeyEndpoint:   s.Endpoint,
		KeyHostname:   s.Hostname,
		KeyExpiration: strconv.Itoa(int(s.Expiration / time.Second)),
		KeyMaxMemory:  s.Limits.Memory,
		KeyMaxCPU:     s.Limits.CPU,
		KeyAssignment: string(s.Assignment),
	}
}
