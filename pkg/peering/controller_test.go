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
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/clock"
	"k8s.io/client-go/dynamic/fake"
)

// transitionLog records mode changes for later inspection.
type transitionLog struct {
	mu  sync.Mutex
	seq []string
}

func (l *transitionLog) handler() TransitionHandler {
	return func(from, to Mode) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.seq = append(l.seq, fmt.Sprintf("%s->%s", from, to))
	}
}

func (l *transitionLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.seq))
	copy(out, l.seq)
	return out
}

func TestNewControllerValidatesOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Interval = opts.Lifetime // nonsense: one missed beat means death

	_, err := NewController(fake.NewSimpleDynamicClient(runtime.NewScheme()), opts)
	require.Error(t, err)
}

func TestNewControllerDetectsIdentity(t *testing.T) {
	opts := DefaultOptions()
	opts.Standalone = true

	c, err := NewController(nil, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Identity())
}

func TestControllerStandalone(t *testing.T) {
	g := NewGomegaWithT(t)
	opts := DefaultOptions()
	opts.Standalone = true
	opts.Identity = "solo"

	c, err := NewController(nil, opts)
	require.NoError(t, err)
	tl := &transitionLog{}
	c.AddTransitionHandler(tl.handler())
	assert.Equal(t, ModeInitializing, c.Mode())
	assert.False(t, c.HasSynced())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = c.Run(stop)
		close(done)
	}()

	g.Eventually(c.IsActive, "5s", "10ms").Should(BeTrue())
	g.Expect(c.HasSynced()).To(BeTrue())

	close(stop)
	g.Eventually(done, "5s", "10ms").Should(BeClosed())
	g.Expect(c.Mode()).To(Equal(ModeTerminating))
	g.Expect(tl.list()).To(Equal([]string{
		"INITIALIZING->ACTIVE",
		"ACTIVE->TERMINATING",
	}))
}

func TestControllerAutoCreatesAndRetracts(t *testing.T) {
	g := NewGomegaWithT(t)
	cl := fake.NewSimpleDynamicClient(runtime.NewScheme())
	ch := Channel{Name: DefaultChannelName}

	opts := DefaultOptions()
	opts.Identity = "only-one"
	c, err := NewController(cl, opts)
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = c.Run(stop)
		close(done)
	}()

	// Alone on a freshly created channel: the instance takes over.
	g.Eventually(c.IsActive, "5s", "50ms").Should(BeTrue())

	reader := NewClient(cl, opts)
	snap, err := reader.Get(ch)
	require.NoError(t, err)
	g.Eventually(func() bool {
		snap, err = reader.Get(ch)
		return err == nil && len(snap.Peers) == 1
	}, "5s", "50ms").Should(BeTrue(), "the instance must register itself")

	// A graceful exit leaves no trace behind.
	close(stop)
	g.Eventually(done, "5s", "50ms").Should(BeClosed())
	snap, err = reader.Get(ch)
	require.NoError(t, err)
	assert.Empty(t, snap.Peers)
}

func TestControllerMandatoryMissingObject(t *testing.T) {
	opts := DefaultOptions()
	opts.Identity = "strict"
	opts.AutoCreate = false
	opts.Mandatory = true

	c, err := NewController(fake.NewSimpleDynamicClient(runtime.NewScheme()), opts)
	require.NoError(t, err)

	err = c.Run(make(chan struct{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mandatory")
}

func TestControllerFallsBackToStandalone(t *testing.T) {
	g := NewGomegaWithT(t)
	cl := fake.NewSimpleDynamicClient(runtime.NewScheme())
	opts := DefaultOptions()
	opts.Identity = "loner"
	opts.AutoCreate = false

	c, err := NewController(cl, opts)
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = c.Run(stop)
		close(done)
	}()

	g.Eventually(c.IsActive, "5s", "10ms").Should(BeTrue())

	// No object was conjured up along the way.
	_, err = NewClient(cl, opts).Get(opts.Channel())
	require.Error(t, err)

	close(stop)
	g.Eventually(done, "5s", "10ms").Should(BeClosed())
}

func TestControllerStandbyStaysFrozen(t *testing.T) {
	g := NewGomegaWithT(t)
	cl := fake.NewSimpleDynamicClient(runtime.NewScheme())
	opts := DefaultOptions()
	opts.Identity = "spare"
	opts.Standby = true

	c, err := NewController(cl, opts)
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	go func() { _ = c.Run(stop) }()

	// Even all alone on the channel, a standby never takes over.
	g.Eventually(c.HasSynced, "5s", "50ms").Should(BeTrue())
	g.Expect(c.Mode()).To(Equal(ModeFrozen))
	g.Consistently(c.IsActive, "300ms", "50ms").Should(BeFalse())
}

// Two rivals on one channel: the stronger processes, the weaker pauses, and a
// graceful exit of the stronger hands the channel over right away.
func TestControllerRivalry(t *testing.T) {
	g := NewGomegaWithT(t)
	cl := fake.NewSimpleDynamicClient(runtime.NewScheme())

	mkOpts := func(id string, priority int) *Options {
		opts := DefaultOptions()
		opts.Identity = id
		opts.Priority = priority
		opts.Lifetime = 30 * time.Second
		opts.Interval = 10 * time.Second
		return opts
	}

	a, err := NewController(cl, mkOpts("aaa", 10))
	require.NoError(t, err)
	b, err := NewController(cl, mkOpts("bbb", 5))
	require.NoError(t, err)

	aRetained := false // whether A's record was still there when A drained
	a.AddTransitionHandler(func(from, to Mode) {
		if to == ModeTerminating {
			if snap, err := NewClient(cl, DefaultOptions()).Get(a.Channel()); err == nil {
				_, aRetained = snap.Peers["aaa"]
			}
		}
	})

	stopA := make(chan struct{})
	doneA := make(chan struct{})
	go func() {
		_ = a.Run(stopA)
		close(doneA)
	}()
	g.Eventually(a.IsActive, "5s", "50ms").Should(BeTrue())

	stopB := make(chan struct{})
	defer close(stopB)
	go func() { _ = b.Run(stopB) }()

	// B sees the stronger A and pauses.
	g.Eventually(b.HasSynced, "5s", "50ms").Should(BeTrue())
	g.Expect(b.Mode()).To(Equal(ModeFrozen))
	g.Expect(a.IsActive()).To(BeTrue())

	// A leaves gracefully: drain first, then retract, and B takes over
	// without waiting out the lifetime.
	close(stopA)
	g.Eventually(doneA, "5s", "50ms").Should(BeClosed())
	g.Expect(aRetained).To(BeTrue(), "processing must stop before the record is retracted")
	g.Eventually(b.IsActive, "10s", "50ms").Should(BeTrue())
}

// A stronger peer that dies without retracting is succeeded exactly when its
// record expires, with no storage traffic needed from the dead side.
func TestControllerPromotionOnExpiry(t *testing.T) {
	g := NewGomegaWithT(t)
	start := time.Date(2019, 6, 24, 12, 0, 0, 0, time.UTC)
	ch := Channel{Name: DefaultChannelName}

	// The late A: its record is in place, but nobody refreshes it.
	cl := fake.NewSimpleDynamicClient(runtime.NewScheme(), peeringObject(ch, map[string]interface{}{
		"aaa": map[string]interface{}{
			"priority": int64(10),
			"lastseen": start.Format(lastSeenLayout),
			"lifetime": int64(30),
		},
	}))

	opts := DefaultOptions()
	opts.Identity = "bbb"
	opts.Priority = 5
	opts.Lifetime = 30 * time.Second
	opts.Interval = 10 * time.Second
	fc := clock.NewFakeClock(start)
	opts.Clock = fc

	b, err := NewController(cl, opts)
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	go func() { _ = b.Run(stop) }()

	g.Eventually(b.HasSynced, "5s", "50ms").Should(BeTrue())
	g.Expect(b.Mode()).To(Equal(ModeFrozen))

	// One lifetime later the silent record is void; the periodic recheck
	// notices it from the clock alone.
	fc.Step(31 * time.Second)
	g.Eventually(b.IsActive, "5s", "50ms").Should(BeTrue())
}
