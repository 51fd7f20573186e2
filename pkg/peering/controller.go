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

	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/clock"
	"k8s.io/client-go/dynamic"

	"istio.io/pkg/probe"
)

// TransitionHandler is called after every operating mode change, from the
// controller's own loop. Handlers must be quick and must not call back into
// the controller.
type TransitionHandler func(from, to Mode)

// Controller runs the whole peering life-cycle of one operator instance:
// presence detection on startup, the keep-alive publisher, the channel watch,
// and the coexistence decision that tells the rest of the operator whether to
// process resources or stand by.
//
// The zero value is not usable; use NewController.
type Controller struct {
	*probe.Probe

	opts      *Options
	clock     clock.Clock
	client    *Client
	watcher   *Watcher
	publisher *Publisher
	table     *Table

	mu         sync.Mutex
	mode       Mode
	handlers   []TransitionHandler
	lastRivals string
}

var _ probe.SupportsProbe = new(Controller)

// NewController validates the options and assembles a controller. The
// instance identity is detected here if the options left it empty. Nothing
// runs until Run is called.
func NewController(dyn dynamic.Interface, opts *Options) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid peering options")
	}
	if opts.Identity == "" {
		opts.Identity = DetectIdentity()
	}

	c := &Controller{
		Probe: probe.NewProbe(),
		opts:  opts,
		clock: opts.clock(),
		table: NewTable(),
		mode:  ModeInitializing,
	}
	if !opts.Standalone {
		c.client = NewClient(dyn, opts)
		c.watcher = NewWatcher(dyn, opts.Channel(), opts)
		c.publisher = NewPublisher(c.client, opts)
	}
	c.SetAvailable(errors.New("peering controller is not running"))
	return c, nil
}

// Run drives the life-cycle until stop is closed and blocks for its whole
// duration. The returned error covers startup only; once presence is
// established, all later failures are absorbed and retried.
//
// Shutdown is ordered: the mode flips to TERMINATING first, so processing
// stops and drains, and only then the presence record is retracted.
func (c *Controller) Run(stop <-chan struct{}) error {
	if c.opts.Standalone {
		scope.Infof("Peering is disabled; processing resources unconditionally as %q", c.opts.Identity)
		return c.runDetached(stop)
	}

	ch := c.opts.Channel()
	snap, err := c.detect()
	if err != nil {
		return err
	}
	if snap == nil {
		scope.Warnf("Peering object %v is not found; falling back to the standalone processing", ch)
		return c.runDetached(stop)
	}
	scope.Infof("Joining channel %v as %q with priority %d", ch, c.opts.Identity, c.opts.Priority)

	// Seed the table from the startup read: decisions may be made even if
	// the first watch event takes a while.
	c.table.Update(snap)

	innerStop := make(chan struct{})
	go c.watcher.Run(innerStop)
	pubDone := make(chan struct{})
	go func() {
		c.publisher.Run(innerStop)
		close(pubDone)
	}()

	ticker := c.clock.NewTicker(c.opts.RecheckInterval)
	defer ticker.Stop()

	c.evaluate()
	c.SetAvailable(nil)

	for {
		select {
		case snap := <-c.watcher.Snapshots():
			c.table.Update(snap)
			c.evaluate()
		case <-ticker.C():
			// Expiry of a rival is a clock event, not a storage event:
			// nothing arrives on the watch when a peer merely falls
			// silent.
			c.evaluate()
		case <-stop:
			scope.Infof("Leaving channel %v", ch)
			c.setMode(ModeTerminating)
			c.SetAvailable(errors.New("peering controller is terminating"))
			close(innerStop)
			<-pubDone
			return nil
		}
	}
}

// runDetached runs the life-cycle without any peering: always active, no
// presence published.
func (c *Controller) runDetached(stop <-chan struct{}) error {
	c.setMode(ModeActive)
	c.SetAvailable(nil)
	<-stop
	c.setMode(ModeTerminating)
	c.SetAvailable(errors.New("peering controller is terminating"))
	return nil
}

// detect checks that the peering object exists, creating it when allowed. A
// nil snapshot with a nil error means peering should be skipped in favor of
// standalone processing.
func (c *Controller) detect() (*Snapshot, error) {
	ch := c.opts.Channel()
	snap, err := c.client.Get(ch)
	if err == nil {
		return snap, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, errors.Wrapf(err, "cannot read peering object %v", ch)
	}
	if c.opts.AutoCreate {
		snap, err = c.client.Create(ch)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot create peering object %v", ch)
		}
		return snap, nil
	}
	if c.opts.Mandatory {
		return nil, errors.Errorf("peering object %v does not exist and peering is mandatory", ch)
	}
	return nil, nil
}

// evaluate recomputes the operating mode from the current records and clock.
func (c *Controller) evaluate() {
	if !c.table.Synced() {
		return
	}
	now := c.clock.Now()
	self := c.opts.selfRecord(now)
	records := c.table.Records()
	ch := c.opts.Channel()

	livePeers.With(channelLabel.Value(ch.String())).Record(float64(len(c.table.Alive(now))))
	c.warnRivals(Rivals(self, records, now))
	c.setMode(Decide(self, records, now))
}

// warnRivals reports contenders with the same priority once per rival set.
// The decision stays deterministic, but whoever deployed two instances with
// equal priorities most likely did not mean to.
func (c *Controller) warnRivals(rivals []Peer) {
	key := ""
	for _, r := range rivals {
		key += r.Identity + ","
	}
	c.mu.Lock()
	seen := c.lastRivals
	c.lastRivals = key
	c.mu.Unlock()
	if key == "" || key == seen {
		return
	}
	ids := make([]string, 0, len(rivals))
	for _, r := range rivals {
		ids = append(ids, r.Identity)
	}
	scope.Warnf("Possibly conflicting operators with the same priority %d on channel %v: %v",
		c.opts.Priority, c.opts.Channel(), ids)
}

// setMode applies a mode change and notifies the handlers. TERMINATING is
// terminal.
func (c *Controller) setMode(to Mode) {
	c.mu.Lock()
	from := c.mode
	if from == to || from == ModeTerminating {
		c.mu.Unlock()
		return
	}
	c.mode = to
	handlers := make([]TransitionHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	switch {
	case to == ModeActive && from != ModeInitializing:
		scope.Infof("Channel %v: resuming operations, no live rival outranks %q", c.opts.Channel(), c.opts.Identity)
	case to == ModeFrozen:
		scope.Infof("Channel %v: pausing operations, a live rival outranks %q", c.opts.Channel(), c.opts.Identity)
	default:
		scope.Infof("Channel %v: mode changed %v -> %v", c.opts.Channel(), from, to)
	}
	modeTransitions.With(
		channelLabel.Value(c.opts.Channel().String()),
		fromLabel.Value(string(from)),
		toLabel.Value(string(to)),
	).Increment()

	for _, h := range handlers {
		h(from, to)
	}
}

// AddTransitionHandler registers a handler for future mode changes. Register
// before Run; changes that happened earlier are not replayed.
func (c *Controller) AddTransitionHandler(h TransitionHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// IsActive reports whether this instance currently holds the channel and may
// process resources.
func (c *Controller) IsActive() bool {
	return c.Mode() == ModeActive
}

// HasSynced reports whether the initial observation completed and a real
// decision has been made.
func (c *Controller) HasSynced() bool {
	return c.Mode() != ModeInitializing
}

// Identity returns the identity this instance publishes under.
func (c *Controller) Identity() string {
	return c.opts.Identity
}

// Channel returns the channel this instance coordinates through.
func (c *Controller) Channel() Channel {
	return c.opts.Channel()
}

// Peers returns all records currently visible on the channel, strongest
// contender first.
func (c *Controller) Peers() []Peer {
	return c.table.Records()
}

// AlivePeers returns the records still valid right now, strongest contender
// first.
func (c *Controller) AlivePeers() []Peer {
	return c.table.Alive(c.clock.Now())
}

// String describes the controller for diagnostic output.
func (c *Controller) String() string {
	return fmt.Sprintf("peering controller %q on channel %v", c.opts.Identity, c.opts.Channel())
}
