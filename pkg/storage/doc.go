// Package storage provides the durable backends for the audit trail and
// the consent registry: a PostgreSQL implementation for production and
// in-memory implementations for tests and database-less deployments.
package storage
