// Package services implements the inbox core: identity resolution, thread
// aggregation, feed management, ingestion and the background pipeline
// that keeps annotations, feed memberships and priority scores current.
//
// This file centralizes service-level error values. Handlers translate
// them into HTTP status codes and stable error codes.
package services

import "errors"

// Ingestion errors.
var (
	// ErrDuplicateMessage marks a redelivered connector message. Ingest
	// never returns it; it is used internally to short-circuit.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrInvalidInbound is returned for connector payloads that fail
	// validation or carry an address that cannot be normalized.
	ErrInvalidInbound = errors.New("invalid inbound message")
)

// Identity errors.
var (
	// ErrContactNotFound indicates the contact does not exist.
	ErrContactNotFound = errors.New("contact not found")

	// ErrIdentityNotFound indicates the identity does not exist.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrNotOwned is returned when unmerging an identity the contact does
	// not own.
	ErrNotOwned = errors.New("identity not owned by contact")

	// ErrConflictingVersion is returned when optimistic concurrency
	// retries ran out; callers should reload and retry.
	ErrConflictingVersion = errors.New("conflicting version")

	// ErrSuggestionNotFound indicates the suggestion does not exist or
	// has already been resolved.
	ErrSuggestionNotFound = errors.New("suggestion not found")
)

// Thread errors.
var (
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadClosed is returned for writes to archived or merged threads.
	ErrThreadClosed = errors.New("thread is closed")

	// ErrThreadContactMismatch is returned when merging threads of
	// different contacts; merge the contacts instead.
	ErrThreadContactMismatch = errors.New("threads belong to different contacts")
)

// Feed errors.
var (
	ErrFeedNotFound = errors.New("feed not found")

	// ErrDuplicateFeed is returned when a feed name is already taken.
	ErrDuplicateFeed = errors.New("feed name already exists")

	// ErrInvalidFilter wraps predicate validation failures and bad feed
	// parameters.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidOrder is returned when a reorder does not list every
	// filter of the feed exactly once.
	ErrInvalidOrder = errors.New("invalid filter order")
)
