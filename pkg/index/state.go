// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package index

// State is the lifecycle stage of an Index.
type State int32

const (
	// Uninitialized means no snapshot has been loaded or built.
	Uninitialized State = iota
	// Building means a build is in progress. A previously published
	// snapshot keeps serving queries meanwhile.
	Building
	// Ready means a snapshot is published and queries are answered.
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Building:
		return "building"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}
