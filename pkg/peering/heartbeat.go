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

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/clock"
)

// Mutator is the slice of the store client the publisher writes through.
type Mutator interface {
	Mutate(ch Channel, fn MutateFn) (*Snapshot, error)
	Create(ch Channel) (*Snapshot, error)
}

// Publisher keeps this instance's record fresh on its channel. Every interval
// it re-stamps its own record in one guarded write cycle, removing expired
// foreign records along the way. On shutdown it retracts the record, so
// rivals take over right away instead of waiting out the lifetime.
//
// A failed cycle is logged and counted, never fatal: the record stays valid
// for a whole lifetime, which by construction spans at least two more
// refresh attempts.
type Publisher struct {
	store Mutator
	ch    Channel
	opts  *Options
	clock clock.Clock
}

// NewPublisher returns a publisher for the instance described by the options.
// The identity must be filled in by then.
func NewPublisher(store Mutator, opts *Options) *Publisher {
	return &Publisher{
		store: store,
		ch:    opts.Channel(),
		opts:  opts,
		clock: opts.clock(),
	}
}

// Run publishes presence until stop is closed, then retracts it. The first
// record is published immediately: until it lands, rivals cannot see this
// instance at all.
func (p *Publisher) Run(stop <-chan struct{}) {
	ticker := p.clock.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.beat()
	for {
		select {
		case <-ticker.C():
			p.beat()
		case <-stop:
			p.retract()
			return
		}
	}
}

// beat runs one keep-alive cycle, re-creating the peering object if it was
// deleted under us and the options allow it.
func (p *Publisher) beat() {
	err := p.publish()
	if apierrors.IsNotFound(err) && p.opts.AutoCreate {
		scope.Warnf("Peering object %v is gone; re-creating it", p.ch)
		if _, cerr := p.store.Create(p.ch); cerr != nil {
			keepaliveFailures.With(channelLabel.Value(p.ch.String())).Increment()
			scope.Warnf("Cannot re-create peering object %v: %v", p.ch, cerr)
			return
		}
		err = p.publish()
	}

	switch {
	case err == nil:
		keepalives.With(channelLabel.Value(p.ch.String())).Increment()
	case apierrors.IsNotFound(err):
		scope.Warnf("Peering object %v is not found; skipping the keep-alive", p.ch)
	default:
		keepaliveFailures.With(channelLabel.Value(p.ch.String())).Increment()
		scope.Warnf("Keep-alive refresh failed on channel %v; keeping the stale record: %v", p.ch, err)
	}
}

func (p *Publisher) publish() error {
	_, err := p.store.Mutate(p.ch, func(peers map[string]Peer) {
		now := p.clock.Now()
		peers[p.opts.Identity] = p.opts.selfRecord(now)
		p.prune(peers, now)
	})
	if err == nil {
		scope.Debugf("Keep-alive refreshed for %q on channel %v", p.opts.Identity, p.ch)
	}
	return err
}

// prune drops expired foreign records while the object is being written
// anyway, so the channel does not accumulate the remains of dead instances.
func (p *Publisher) prune(peers map[string]Peer, now time.Time) {
	for id, rec := range peers {
		if id == p.opts.Identity || rec.AliveAt(now) {
			continue
		}
		delete(peers, id)
		scope.Infof("Removing the expired record of %v from channel %v; last seen %v",
			rec, p.ch, rec.LastSeen.Format(time.RFC3339))
		prunedRecords.With(channelLabel.Value(p.ch.String())).Increment()
	}
}

// retract removes this instance's record. Best effort with the usual bounded
// retries: if it fails, the record simply expires a lifetime later.
func (p *Publisher) retract() {
	_, err := p.store.Mutate(p.ch, func(peers map[string]Peer) {
		delete(peers, p.opts.Identity)
	})
	switch {
	case err == nil:
		scope.Infof("Retracted own presence %q from channel %v", p.opts.Identity, p.ch)
	case apierrors.IsNotFound(err):
		// Nothing left to retract from.
	default:
		scope.Warnf("Could not retract own presence from channel %v; the record will expire on its own: %v",
			p.ch, err)
	}
}
