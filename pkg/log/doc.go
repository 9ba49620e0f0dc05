/*
Package log provides structured logging for Cradle built on zerolog.

A single global logger is initialized once at process start via Init and
consumed through child loggers carrying stable fields:

	logger := log.WithComponent("manager")
	logger.Info().Str("container_id", id).Msg("instance created")

Child-logger helpers exist for the fields every lifecycle operation shares:
component, challenge_id, container_id and the owner scope. Operators get full
detail here; user-facing error bodies stay coarse and are produced at the API
boundary, not in this package.
*/
package log
