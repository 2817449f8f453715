// Package taskerr defines the sentinel errors shared across the task
// engine and its HTTP surface. Handlers map these to status codes with
// errors.Is rather than switching on concrete types, matching the
// mapDomainError convention used elsewhere in this codebase.
package taskerr

import "errors"

var (
	// ErrNotFound is returned when a task id has no known task.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a status edge is not in the
	// state machine's transition graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminalTask is returned by publishEvent once a task has reached
	// a terminal status.
	ErrTerminalTask = errors.New("task is in a terminal status")

	// ErrSchemaInvalid is returned for malformed request payloads.
	ErrSchemaInvalid = errors.New("request payload failed validation")

	// ErrUnauthorized is returned when a request carries no usable credential.
	ErrUnauthorized = errors.New("missing or invalid credential")

	// ErrForbidden is returned when a credential is valid but lacks the
	// scope or task-id entitlement the operation requires.
	ErrForbidden = errors.New("credential is not permitted to perform this operation")

	// ErrStorageError wraps short-term store failures, which are fatal to
	// the request that triggered them.
	ErrStorageError = errors.New("short-term store operation failed")

	// ErrBroadcastError wraps broadcast fan-out failures.
	ErrBroadcastError = errors.New("broadcast operation failed")
)
