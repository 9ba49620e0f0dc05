// Package manager implements the instance lifecycle: request, renew, stop,
// reset, and the admin and maintenance operations over them.
//
// The manager enforces the uniqueness rules at the boundary between the
// container engine and the registry. Per-owner and per-challenge limits are
// checked before creation and again by the registry's atomic insert, so two
// concurrent requests for the same slot resolve to one instance; the loser's
// container is destroyed as an orphan. Destruction always removes the engine
// container before the registry row, so a failed destroy never loses track
// of a live container.
//
// Operations return *Failure values carrying a machine-readable Kind and the
// user-facing message; callers map Kind to their transport's status codes.
package manager
