// Package database provides the timeout helpers applied to every call that
// leaves the process: SQL, Redis, OpenSearch and the remote confirmation API.
package database

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout bounds read queries and lookups.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds single writes.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultBulkTimeout bounds migrations and batch operations.
	DefaultBulkTimeout = 30 * time.Second

	// DefaultRemoteTimeout bounds one upload to the remote confirmation API.
	DefaultRemoteTimeout = 30 * time.Second
)

// QueryContext creates a context with DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// WriteContext creates a context with DefaultWriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultWriteTimeout)
}

// BulkContext creates a context with DefaultBulkTimeout.
func BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultBulkTimeout)
}

// RemoteContext creates a context with the given timeout, or
// DefaultRemoteTimeout when d is not positive.
func RemoteContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultRemoteTimeout
	}
	return context.WithTimeout(parent, d)
}
