// Package api exposes the lifecycle manager over HTTP. Player routes take
// the caller's identity from the X-Cradle-User and X-Cradle-Team headers set
// by the platform in front of cradle; admin routes are gated by a shared
// token. Errors are returned as {"error": message} bodies with the failure
// kind mapped to an HTTP status.
package api
