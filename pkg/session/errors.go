package session

import "errors"

var (
	// ErrQueryInProgress is returned when a query is submitted to a busy
	// session. The caller must cancel the running query first.
	ErrQueryInProgress = errors.New("a query is already in progress")

	// ErrResumeIncomplete is returned when a reconnecting client requests
	// sequence numbers the replay buffer no longer retains.
	ErrResumeIncomplete = errors.New("replay buffer rolled over, resume incomplete")

	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)
