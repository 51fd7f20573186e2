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
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Table is the in-memory view of one channel's peer records, fed by the
// watcher. It stores records verbatim: whether a record counts as alive is
// decided lazily against a caller-supplied clock, so a peer's expiry is
// noticed without any storage traffic.
type Table struct {
	mu         sync.RWMutex
	snap       *Snapshot
	generation *atomic.Int64
}

// NewTable returns an empty, unsynced table.
func NewTable() *Table {
	return &Table{
		generation: atomic.NewInt64(0),
	}
}

// Update replaces the table's content with a newer observation.
func (t *Table) Update(s *Snapshot) {
	t.mu.Lock()
	t.snap = s
	t.mu.Unlock()
	t.generation.Inc()
}

// Synced reports whether at least one observation has been applied. Decisions
// made before that would be based on nothing.
func (t *Table) Synced() bool {
	return t.generation.Load() > 0
}

// Generation returns the number of observations applied so far.
func (t *Table) Generation() int64 {
	return t.generation.Load()
}

// Version returns the storage version of the current observation.
func (t *Table) Version() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.snap == nil {
		return ""
	}
	return t.snap.Version
}

// Records returns all current records, strongest contender first.
func (t *Table) Records() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.snap == nil {
		return nil
	}
	out := make([]Peer, 0, len(t.snap.Peers))
	for _, p := range t.snap.Peers {
		out = append(out, p)
	}
	sortByRank(out)
	return out
}

// Alive returns the records still valid at the given instant, strongest
// contender first.
func (t *Table) Alive(now time.Time) []Peer {
	records := t.Records()
	out := records[:0]
	for _, p := range records {
		if p.AliveAt(now) {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the record of the given identity, if present.
func (t *Table) Get(identity string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.snap == nil {
		return Peer{}, false
	}
	p, ok := t.snap.Peers[identity]
	return p, ok
}
