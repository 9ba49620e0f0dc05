// Package reaper runs the background maintenance loop. Every interval it
// destroys instances past their expiry; on a slower cadence it sweeps the
// engine for labeled containers the registry does not track and reclaims
// them. Both passes are best effort; individual failures are logged and
// retried on the next cycle.
package reaper
