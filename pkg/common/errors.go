package common

import "errors"

// Sentinel errors shared across the store, builder, query engine and
// HTTP layer. Callers match with errors.Is; wrapping layers add
// context with fmt.Errorf and %w.
var (
	// ErrNotFound signals a missing graph or entity.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists signals a (scope, name) collision on create.
	ErrAlreadyExists = errors.New("graph already exists")

	// ErrIntegrity signals a relationship referencing an entity that is
	// not part of the graph.
	ErrIntegrity = errors.New("referential integrity violation")

	// ErrInvalidTransition signals an illegal lifecycle status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConcurrentBuild signals an update against a graph whose build
	// has not reached a terminal state.
	ErrConcurrentBuild = errors.New("concurrent build in progress")

	// ErrGraphNotReady signals a query against a graph that is not in
	// completed state.
	ErrGraphNotReady = errors.New("graph not ready")

	// ErrExtraction signals that no chunk yielded usable output.
	ErrExtraction = errors.New("extraction produced no usable output")

	// ErrBuildTimeout signals that a build exceeded its wall-clock
	// ceiling.
	ErrBuildTimeout = errors.New("build timed out")

	// ErrValidation signals malformed caller-supplied parameters.
	ErrValidation = errors.New("validation failed")
)
