/*
Package metrics exposes Prometheus collectors for Cradle.

Instance lifecycle is covered by a running gauge, created/destroyed counters
(destroyed split by cause: stop, reset, kill, purge, reap), a
creation-failure counter split by failure kind, and a create-duration
histogram. The API boundary records per-route request counts and latencies.
Handler returns the promhttp handler mounted at /metrics by the server.
*/
package metrics
