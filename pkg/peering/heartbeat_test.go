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
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/clock"
)

// memStore is an in-memory Mutator with error injection.
type memStore struct {
	mu      sync.Mutex
	present bool
	peers   map[string]Peer
	err     error
	creates int
	writes  int
}

func newMemStore(present bool) *memStore {
	return &memStore{present: present, peers: map[string]Peer{}}
}

func (m *memStore) Mutate(ch Channel, fn MutateFn) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if !m.present {
		return nil, apierrors.NewNotFound(
			schema.GroupResource{Group: DefaultGroup, Resource: ClusterResourcePlural}, ch.Name)
	}
	fn(m.peers)
	m.writes++
	return &Snapshot{Version: "fake", Peers: clonePeers(m.peers)}, nil
}

func (m *memStore) Create(ch Channel) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	m.present = true
	return &Snapshot{Peers: clonePeers(m.peers)}, nil
}

func (m *memStore) get(id string) (Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	return p, ok
}

func (m *memStore) set(p Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[p.Identity] = p
}

func (m *memStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func publisherFixture(store Mutator, start time.Time) (*Publisher, *Options) {
	opts := DefaultOptions()
	opts.Identity = "me"
	opts.Priority = 3
	opts.Clock = clock.NewFakeClock(start)
	return NewPublisher(store, opts), opts
}

func TestPublisherBeatRegisters(t *testing.T) {
	start := time.Date(2019, 6, 24, 12, 0, 0, 0, time.UTC)
	store := newMemStore(true)
	p, opts := publisherFixture(store, start)

	p.beat()

	rec, ok := store.get("me")
	require.True(t, ok)
	assert.Equal(t, 3, rec.Priority)
	assert.Equal(t, opts.Lifetime, rec.Lifetime)
	assert.True(t, rec.LastSeen.Equal(start))
}

func TestPublisherBeatPrunesExpired(t *testing.T) {
	start := time.Date(2019, 6, 24, 12, 0, 0, 0, time.UTC)
	store := newMemStore(true)
	store.set(Peer{Identity: "fresh", LastSeen: start, Lifetime: time.Minute})
	store.set(Peer{Identity: "stale", LastSeen: start.Add(-time.Hour), Lifetime: time.Minute})
	p, _ := publisherFixture(store, start)

	p.beat()

	_, ok := store.get("fresh")
	assert.True(t, ok, "a live record must not be pruned")
	_, ok = store.get("stale")
	assert.False(t, ok, "an expired record must be pruned")
	_, ok = store.get("me")
	assert.True(t, ok)
}

func TestPublisherBeatRecreatesObject(t *testing.T) {
	start := time.Date(2019, 6, 24, 12, 0, 0, 0, time.UTC)
	store := newMemStore(false)
	p, _ := publisherFixture(store, start)

	p.beat()

	assert.Equal(t, 1, store.creates)
	_, ok := store.get("me")
	assert.True(t, ok)
}

func TestPublisherBeatAbsentWithoutAutoCreate(t *testing.T) {
	start := time.Date(2019, 6, 24, 12, 0, 0, 0, time.UTC)
	store := newMemStore(false)
	p, opts := publisherFixture(store, start)
	opts.AutoCreate = false

	p.beat() // logs and moves on

	assert.Equal(t, 0, store.creates)
	_, ok := store.get("me")
	assert.False(t, ok)
}

func TestPublisherBeatAbsorbsErrors(t *testing.T) {
	start := time.Date(2019, 6, 24, 12, 0, 0, 0, time.UTC)
	store := newMemStore(true)
	p, _ := publisherFixture(store, start)

	store.setErr(apierrors.NewInternalError(assert.AnError))
	p.beat() // must not panic or crash the cycle

	_, ok := store.get("me")
	assert.False(t, ok)

	// The next cycle heals it.
	store.setErr(nil)
	p.beat()
	_, ok = store.get("me")
	assert.True(t, ok)
}

func TestPublisherRetract(t *testing.T) {
	start := time.Date(2019, 6, 24, 12, 0, 0, 0, time.UTC)
	store := newMemStore(true)
	store.set(Peer{Identity: "other", LastSeen: start, Lifetime: time.Minute})
	p, _ := publisherFixture(store, start)

	p.beat()
	p.retract()

	_, ok := store.get("me")
	assert.False(t, ok, "own record must be retracted")
	_, ok = store.get("other")
	assert.True(t, ok, "foreign records must be left alone")
}

func TestPublisherRunLifecycle(t *testing.T) {
	g := NewGomegaWithT(t)
	start := time.Date(2019, 6, 24, 12, 0, 0, 0, time.UTC)
	store := newMemStore(true)
	p, opts := publisherFixture(store, start)
	fc := opts.Clock.(*clock.FakeClock)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Run(stop)
		close(done)
	}()

	// The first record is published immediately, not an interval later.
	g.Eventually(func() bool {
		_, ok := store.get("me")
		return ok
	}, "5s", "10ms").Should(BeTrue())
	first := store.writeCount()

	// Each interval refreshes the record.
	fc.Step(opts.Interval)
	g.Eventually(store.writeCount, "5s", "10ms").Should(BeNumerically(">", first))

	// Shutdown retracts and returns.
	close(stop)
	g.Eventually(done, "5s", "10ms").Should(BeClosed())
	_, ok := store.get("me")
	g.Expect(ok).To(BeFalse())
}
