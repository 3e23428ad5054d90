package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidItem is returned when an item lacks its id or partition key.
	ErrInvalidItem = errors.New("item requires non-empty id and partitionKey")
)
