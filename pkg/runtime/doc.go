/*
Package runtime wraps the Docker Engine API behind the narrow capability set
Cradle's lifecycle manager needs: create-and-start, host-port lookup,
running-check, idempotent destroy, image listing and a connectivity probe.

The Adapter interface is the contract; DockerAdapter is the engine
implementation. Every operation takes a context and may block on network
I/O; callers own timeouts and retries, the adapter does neither.

Error contract:

  - ErrUnavailable wraps any failure to reach the engine endpoint.
  - ErrPortNotBound wraps a successful inspect that shows no host binding
    for the challenge port; the container exists but is unusable.
  - IsRunning never errors: an unknown handle is reported as not running.
  - Destroy of an already-gone container succeeds.

Containers are created with two labels, cradle.managed and
cradle.challenge_id, and their challenge port published on an engine-assigned
host port. ListManaged filters on the management label so the reconciliation
sweep can find containers the registry no longer tracks.

The Factory type exists so the configuration layer can rebuild the adapter
when an admin changes the engine endpoint, and so tests can substitute fakes.
*/
package runtime
