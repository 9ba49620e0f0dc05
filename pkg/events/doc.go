/*
Package events provides an in-process broker for instance lifecycle events.

The lifecycle manager publishes an event for every durable state change
(created, renewed, destroyed, reaped, orphaned) and for settings updates.
Subscribers receive events on buffered channels; a slow subscriber drops
events rather than blocking the broker or the publishing operation.
AuditLogger is the standing subscriber: the server starts one at boot so
every event lands in the operator log.
*/
package events
