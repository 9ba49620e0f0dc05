/*
Package types defines the shared data model for Cradle's instance lifecycle.

The central entity is the Instance: one row per live challenge container,
keyed by the engine's container id and scoped to an Owner (a user or a team,
selected by the active AssignmentMode). The row carries the host port assigned
at creation and two unix-second timestamps: created_at (immutable) and
expires_at (advanced by renewal, never decreased).

Invariants the rest of the system enforces over this model:

  - At most one instance per (challenge, owner) pair.
  - Under "user" and "team" modes, at most one instance per owner across all
    challenges; "unlimited" waives the cross-challenge restriction.
  - Deletion is row removal. There is no tombstone state.

Challenge is the read-only definition a collaborator provides; the lifecycle
core consumes image, port, command, volumes and connection info and carries
the dynamic scoring fields without computing on them.
*/
package types
