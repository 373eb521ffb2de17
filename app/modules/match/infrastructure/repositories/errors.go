package matchdb

import "errors"

// Sentinel errors for the match repository. They describe row-level outcomes;
// the application layer maps them to domain errors.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("match record not found")

	// ErrNoRowsAffected indicates a conditional UPDATE/DELETE matched no rows,
	// usually because another writer changed the row first.
	ErrNoRowsAffected = errors.New("no rows affected")

	// ErrDuplicate indicates a unique key already exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrMatchFull indicates the roster is at max players.
	ErrMatchFull = errors.New("match is full")

	// ErrNotWaiting indicates a roster change hit a match that already left
	// WAITING.
	ErrNotWaiting = errors.New("match is not waiting")

	// ErrAlreadyVerified indicates a score write hit a VERIFIED row.
	ErrAlreadyVerified = errors.New("score already verified")
)
