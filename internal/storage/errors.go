package storage

import "errors"

var (
	// ErrNotFound is returned when no artifact row has the requested id.
	ErrNotFound = errors.New("storage: artifact not found")

	// ErrDuplicateID is returned when an inserted artifact id is already
	// indexed. Ids are random, so this signals a caller bug.
	ErrDuplicateID = errors.New("storage: duplicate artifact id")
)
