// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package match

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a call is not valid in the
	// current state.
	ErrInvalidTransition = errors.New("match: invalid state transition")

	// ErrNotJoined is returned by calls that need an active join.
	ErrNotJoined = errors.New("match: session has not joined a match")

	// ErrNotInProgress is returned by SendEvent before the mesh is
	// ready.
	ErrNotInProgress = errors.New("match: match is not in progress")

	// ErrWaitForPlayersTimeout fails a session that never received an
	// election result.
	ErrWaitForPlayersTimeout = errors.New("match: timed out waiting for players")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("match: session is already running")
)

// SessionError is a failure fatal to the session. State is the state
// the session was in when it failed.
type SessionError struct {
	State State
	Cause error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("match: %s failed: %v", e.State, e.Cause)
}

func (e *SessionError) Unwrap() error { return e.Cause }
