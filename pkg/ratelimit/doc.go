// Package ratelimit provides per-caller token-bucket rate limiting
// middleware for Gin HTTP servers, keyed by actor identity or client IP,
// with automatic stale-entry cleanup.
package ratelimit
