// Package client is a thin HTTP client over the cradle admin API, used by
// the CLI subcommands.
package client
