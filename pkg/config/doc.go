/*
Package config holds the container settings snapshot and the swappable
settings+adapter handle consumed by the lifecycle manager.

Settings live as durable key/value rows (docker_base_url, docker_hostname,
container_expiration, container_maxmemory, container_maxcpu,
docker_assignment). An admin update must carry every key; partial documents
are rejected wholesale with ErrIncomplete rather than merged.

The Handle publishes two atomic pointers: the parsed Snapshot and the engine
Adapter. Readers load whichever is current at the start of an operation and
never see a torn update. Apply persists first, then swaps the snapshot, then
re-initializes the adapter when the endpoint changed; a reconnect failure
surfaces as ReconnectError while the persisted settings remain in effect.
There is deliberately no process-wide singleton here. The handle is injected
wherever it is needed, which is also what makes the manager testable with a
fake adapter factory.
*/
package config
