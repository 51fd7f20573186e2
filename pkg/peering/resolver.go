// Copyright 2019 The Peering Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package peering

import (
	"time"
)

// Mode is the operating state of an instance on its channel.
type Mode string

const (
	// ModeInitializing is the state before the first complete observation
	// of the channel. No processing decision has been made yet.
	ModeInitializing Mode = "INITIALIZING"

	// ModeActive is the state of the instance that holds the channel: it
	// processes resources.
	ModeActive Mode = "ACTIVE"

	// ModeFrozen is the state of an instance outranked by a live rival: it
	// keeps its presence fresh but pauses all processing.
	ModeFrozen Mode = "FROZEN"

	// ModeTerminating is the state during shutdown, after processing has
	// been stopped and before the presence record is retracted.
	ModeTerminating Mode = "TERMINATING"
)

// Decide returns the operating mode for self, given the records currently
// visible on the channel.
//
// The channel belongs to the strongest live contender: the highest priority
// wins, and equal priorities are broken towards the lexicographically smaller
// identity, so every rival reaches the same verdict from the same records
// without any negotiation. Standby records never contend. Records of self are
// ignored: a running instance is alive by definition, no matter how stale its
// stored record is.
func Decide(self Peer, records []Peer, now time.Time) Mode {
	if self.Standby {
		return ModeFrozen
	}
	for _, p := range records {
		if p.Identity == self.Identity || p.Standby || !p.AliveAt(now) {
			continue
		}
		if outranks(p, self) {
			return ModeFrozen
		}
	}
	return ModeActive
}

// Rivals returns the live foreign contenders that carry exactly the same
// priority as self. Such deployments still resolve deterministically, but
// deserve a warning: the identity tie-break is arbitrary from the operator
// owner's point of view.
func Rivals(self Peer, records []Peer, now time.Time) []Peer {
	var out []Peer
	for _, p := range records {
		if p.Identity == self.Identity || p.Standby || !p.AliveAt(now) {
			continue
		}
		if p.Priority == self.Priority {
			out = append(out, p)
		}
	}
	sortByRank(out)
	return out
}

// Winner returns the record that currently holds the channel, if any live
// non-standby contender exists.
func Winner(records []Peer, now time.Time) (Peer, bool) {
	var best Peer
	found := false
	for _, p := range records {
		if p.Standby || !p.AliveAt(now) {
			continue
		}
		if !found || outranks(p, best) {
			best = p
			found = true
		}
	}
	return best, found
}
