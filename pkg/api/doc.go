// Package api exposes the compliance services over HTTP: audit trail
// queries and exports, consent lifecycle and access decisions, and
// notification scheduling. Identity arrives via gateway-set headers.
package api
