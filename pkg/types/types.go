package types

import (
	"fmt"
	"time"
)

// AssignmentMode governs how instances are keyed to their owner
type AssignmentMode string

const (
	// AssignmentUser keys instances per user, one instance across all challenges
	AssignmentUser AssignmentMode = "user"

	// AssignmentTeam keys instances per team, one instance across all challenges
	AssignmentTeam AssignmentMode = "team"

	// AssignmentUnlimited keys instances per user without the
	// one-instance-per-owner restriction
	AssignmentUnlimited AssignmentMode = "unlimited"
)

// Valid reports whether the mode is one of the recognized assignment modes
func (m AssignmentMode) Valid() bool {
	switch m {
	case AssignmentUser, AssignmentTeam, AssignmentUnlimited:
		return true
	}
	return false
}

// SingleInstancePerOwner reports whether the mode restricts an owner to one
// instance across all challenges. "unlimited" waives the restriction.
func (m AssignmentMode) SingleInstancePerOwner() bool {
	return m == AssignmentUser || m == AssignmentTeam
}

// OwnerKind identifies which identity an instance is tracked against
type OwnerKind string

const (
	OwnerUser OwnerKind = "user"
	OwnerTeam OwnerKind = "team"
)

// Owner is the scope an instance belongs to, selected by assignment mode.
// Exactly one identity is carried; user and team are never both set.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// UserOwner returns an owner scoped by user id
func UserOwner(id string) Owner {
	return Owner{Kind: OwnerUser, ID: id}
}

// TeamOwner returns an owner scoped by team id
func TeamOwner(id string) Owner {
	return Owner{Kind: OwnerTeam, ID: id}
}

// Key returns a stable string form used for registry lookups
func (o Owner) Key() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

// IsZero reports whether no identity is set
func (o Owner) IsZero() bool {
	return o.ID == ""
}

// Instance represents a single running sandboxed workload created from a
// challenge's image. One row per live container; absence is the terminal
// state, there are no tombstones.
type Instance struct {
	ContainerID string `json:"container_id"`
	ChallengeID string `json:"challenge_id"`
	Owner       Owner  `json:"owner"`
	Port        int    `json:"port"`
	CreatedAt   int64  `json:"created_at"` // unix seconds
	ExpiresAt   int64  `json:"expires_at"` // unix seconds, advanced by renewal
}

// Expired reports whether the instance has lapsed past its expiry
func (i *Instance) Expired(now time.Time) bool {
	return now.Unix() >= i.ExpiresAt
}

// Challenge is the read-only definition an instance is spawned from. The
// metadata store is a collaborator; the lifecycle core only reads these
// fields. The dynamic scoring fields are carried for the admin surface and
// never computed on here.
type Challenge struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Image          string            `json:"image" yaml:"image"`
	Port           int               `json:"port" yaml:"port"`
	Command        string            `json:"command,omitempty" yaml:"command,omitempty"`
	Volumes        map[string]string `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	ConnectionInfo string            `json:"connection_info,omitempty" yaml:"connection_info,omitempty"`

	Initial int `json:"initial,omitempty" yaml:"initial,omitempty"`
	Minimum int `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Decay   int `json:"decay,omitempty" yaml:"decay,omitempty"`
}

// ResourceLimits caps applied to every created container. Memory uses engine
// syntax ("512m", "1g"); CPU is a fractional core count ("0.5").
type ResourceLimits struct {
	Memory string
	CPU    string
}

// InstanceStatus is the coarse state reported to callers
type InstanceStatus string

const (
	StatusCreated        InstanceStatus = "created"
	StatusAlreadyRunning InstanceStatus = "already_running"
	StatusRenewed        InstanceStatus = "renewed"
	StatusStopped        InstanceStatus = "stopped"
)
