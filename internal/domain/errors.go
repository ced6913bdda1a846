package domain

import "errors"

var (
	// ErrChainConflict is returned when an active chain already exists for a (block, season) pair
	ErrChainConflict = errors.New("active chain already exists for block and season")

	// ErrChainArchived is returned when an append is attempted against an archived chain
	ErrChainArchived = errors.New("chain is archived")

	// ErrChainNotFound is returned when a chain is not found
	ErrChainNotFound = errors.New("chain not found")

	// ErrFruitNotFound is returned when a fruit batch is not found
	ErrFruitNotFound = errors.New("fruit batch not found")

	// ErrNodeNotFound is returned when a node is not found
	ErrNodeNotFound = errors.New("node not found")

	// ErrUnknownParent is returned when an append names a parent hash that does
	// not match any existing node of the chain
	ErrUnknownParent = errors.New("parent hash does not match any node in the chain")

	// ErrHeadConflict is returned when a concurrent append advanced the chain head
	// first. Callers retry a bounded number of times before surfacing it.
	ErrHeadConflict = errors.New("chain head moved concurrently")
)
