// Package xref stores cross-references between entity IDs of the two
// applications, for example a material request ID and the delivery task ID
// created for it. Each source key holds at most one target.
package xref

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no mapping exists for a source key.
var ErrNotFound = errors.New("cross-reference not found")

// Store is implemented by every mapping backend.
type Store interface {
	// PutIfAbsent stores source -> target unless source is already mapped.
	// It returns the target that is mapped after the call and whether this
	// call created it. The check and the write are atomic.
	PutIfAbsent(ctx context.Context, source, target string) (existing string, created bool, err error)

	// Get returns the target for source or ErrNotFound.
	Get(ctx context.Context, source string) (string, error)

	// Set overwrites the mapping (last write wins).
	Set(ctx context.Context, source, target string) error

	// Delete removes the mapping. Deleting a missing key is not an error.
	Delete(ctx context.Context, source string) error
}

// Key namespaces for the two directions of mapping.
const (
	KindMaterialRequest = "materials-request"
	KindLogisticsTask   = "logistics-task"
)

// Key builds the namespaced source key for an entity.
func Key(kind, id string) string {
	return kind + ":" + id
}
