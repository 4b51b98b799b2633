package repository

import "errors"

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry means an insert or update violated a unique constraint.
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrRoomFull means the conditional membership insert lost a join race:
	// the room was at capacity by the time the write committed.
	ErrRoomFull = errors.New("repository: room at capacity")
)
