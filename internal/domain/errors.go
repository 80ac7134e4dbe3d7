package domain

import "errors"

var (
	// ErrLookup indicates a store read failed.
	ErrLookup = errors.New("store lookup failed")

	// ErrCreate indicates a store write failed.
	ErrCreate = errors.New("store create failed")

	// ErrCommit indicates a transaction failed to commit.
	ErrCommit = errors.New("transaction commit failed")

	// ErrConsistency indicates the store violated a uniqueness invariant:
	// more than one row matched a key expected to be unique. It is never
	// recovered from; the enclosing operation aborts.
	ErrConsistency = errors.New("store consistency violation")

	// ErrIndexOutOfRange indicates a history index outside the list bounds.
	ErrIndexOutOfRange = errors.New("history index out of range")
)
