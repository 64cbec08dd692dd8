// Package store defines the repository interface the core consumes
// (spec §4.7) and a MongoDB-backed implementation plus an in-memory fake
// for tests.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned by Insert when a unique index is violated.
type ErrDuplicateKey struct {
	Keys map[string]any
}

func (e *ErrDuplicateKey) Error() string { return "duplicate key" }

// IndexSpec describes one index to create at boot.
type IndexSpec struct {
	Name     string
	Keys     []string // field names, ascending
	Unique   bool
	TTL      bool
	TTLField string
	TTLAfter int64 // seconds, only meaningful when TTL is true
}

// Repository is the persistence interface every entity is stored through,
// generic over its document type per spec §4.7.
type Repository[T any] interface {
	FindOne(ctx context.Context, filter map[string]any) (T, error)
	Iterate(ctx context.Context, filter map[string]any) (Cursor[T], error)
	Insert(ctx context.Context, doc T) (T, error)
	Update(ctx context.Context, filter map[string]any, fields map[string]any) error
	Delete(ctx context.Context, filter map[string]any) error
	CreateIndexes(ctx context.Context, specs []IndexSpec) error
}

// Cursor iterates a query result set without materializing it fully.
type Cursor[T any] interface {
	Next(ctx context.Context) bool
	Decode() (T, error)
	Close(ctx context.Context) error
}
