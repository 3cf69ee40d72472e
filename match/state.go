// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package match

// State is a session lifecycle state.
type State string

const (
	StateIdle              State = "idle"
	StateJoining           State = "joining"
	StateQualityTest       State = "quality-test"
	StateWaitingForPlayers State = "waiting-for-players"
	StateElectingAnchors   State = "electing-anchors"
	StateConnectingMesh    State = "connecting-mesh"
	StateReady             State = "ready"
	StateInProgress        State = "in-progress"
	StateFinished          State = "finished"
	StateError             State = "error"
)

func (s State) String() string { return string(s) }

// forward lists the non-exceptional successors of each state. Leave
// (to idle) and failure (to error) are handled by CanTransition.
var forward = map[State][]State{
	StateIdle:              {StateJoining},
	StateJoining:           {StateQualityTest},
	StateQualityTest:       {StateWaitingForPlayers},
	StateWaitingForPlayers: {StateElectingAnchors},
	StateElectingAnchors:   {StateConnectingMesh},
	StateConnectingMesh:    {StateReady},
	StateReady:             {StateInProgress},
	StateInProgress:        {StateFinished},
	StateFinished:          {StateJoining},
	StateError:             {StateJoining},
}

// CanTransition reports whether the lifecycle allows moving from s to
// next. Every state but idle may leave to idle; every active state may
// fail to error.
func (s State) CanTransition(next State) bool {
	if s == next {
		return false
	}
	switch next {
	case StateIdle:
		return true
	case StateError:
		return s.Active()
	}
	for _, successor := range forward[s] {
		if successor == next {
			return true
		}
	}
	return false
}

// Active reports whether the session holds signaling and mesh
// resources in s.
func (s State) Active() bool {
	switch s {
	case StateIdle, StateFinished, StateError:
		return false
	}
	return true
}

// Joinable reports whether Join is accepted in s.
func (s State) Joinable() bool {
	return !s.Active()
}
