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
	"context"
	"time"

	"golang.org/x/time/rate"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/util/retry"
)

// Writes across all rival instances land on a single tiny object, so the
// client keeps its own request budget independent of whatever rate the rest
// of the operator talks to the API server at.
const (
	writeInterval = 200 * time.Millisecond
	writeBurst    = 5
)

// Snapshot is one consistent observation of a channel: the peer set together
// with the storage version it was read at. The version guards subsequent
// updates, so that two racing writers can never silently overwrite each
// other.
type Snapshot struct {
	// Version is the opaque storage version the peer set was read at.
	Version string

	// Peers maps identities to their records.
	Peers map[string]Peer

	// base retains the object the snapshot was decoded from, so that a
	// write-back preserves everything except the peer set.
	base *unstructured.Unstructured
}

// Records returns the snapshot's peers as a slice, strongest contender first.
func (s *Snapshot) Records() []Peer {
	out := make([]Peer, 0, len(s.Peers))
	for _, p := range s.Peers {
		out = append(out, p)
	}
	sortByRank(out)
	return out
}

// MutateFn edits a peer set in place within one guarded write cycle.
type MutateFn func(peers map[string]Peer)

// Client reads and writes the shared peering objects through the dynamic API.
//
// Errors keep their API-server classification: absence is reported with a
// NotFound error, a lost version race with a Conflict error, and anything
// else is transient and worth retrying on the caller's next cycle. None of
// them are fatal to the operator.
type Client struct {
	dyn         dynamic.Interface
	group       string
	version     string
	subresource bool
	limiter     *rate.Limiter
	backoff     wait.Backoff
}

// NewClient returns a client for the peering objects served under the API
// group and version selected by the options.
func NewClient(dyn dynamic.Interface, opts *Options) *Client {
	return &Client{
		dyn:         dyn,
		group:       opts.Group,
		version:     opts.Version,
		subresource: opts.StatusSubresource,
		limiter:     rate.NewLimiter(rate.Every(writeInterval), writeBurst),
		backoff:     conflictBackoff(opts.ConflictRetries),
	}
}

// conflictBackoff bounds the in-cycle retries of a lost version race: a few
// quick, jittered attempts, then give up until the next keep-alive cycle. The
// jitter keeps rival instances from colliding in lockstep again.
func conflictBackoff(steps int) wait.Backoff {
	return wait.Backoff{
		Duration: 10 * time.Millisecond,
		Factor:   2.0,
		Jitter:   0.5,
		Steps:    steps,
	}
}

// resource returns the dynamic handle of the channel's backing object.
func (c *Client) resource(ch Channel) dynamic.ResourceInterface {
	res := c.dyn.Resource(ch.resource(c.group, c.version))
	if ch.Clustered() {
		return res
	}
	return res.Namespace(ch.Namespace)
}

// Get fetches the channel's current peer set.
func (c *Client) Get(ch Channel) (*Snapshot, error) {
	obj, err := c.resource(ch).Get(ch.Name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return snapshotFromObject(ch, obj), nil
}

// Create creates the channel's peering object with an empty peer set. Losing
// a creation race against a rival is not a failure: the object that won is
// fetched and returned, so racing auto-creations still converge on a single
// object.
func (c *Client) Create(ch Channel) (*Snapshot, error) {
	u := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": c.group + "/" + c.version,
			"kind":       ch.kind(),
			"metadata": map[string]interface{}{
				"name": ch.Name,
			},
		},
	}
	if !ch.Clustered() {
		u.SetNamespace(ch.Namespace)
	}
	if err := c.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	obj, err := c.resource(ch).Create(u, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		scope.Debugf("Peering object %v already exists", ch)
		return c.Get(ch)
	}
	if err != nil {
		return nil, err
	}
	scope.Infof("Created peering object %v", ch)
	return snapshotFromObject(ch, obj), nil
}

// Update writes the snapshot's peer set back, guarded by the version the
// snapshot was read at. A rival write that landed in between surfaces as a
// Conflict error and nothing is overwritten.
func (c *Client) Update(ch Channel, snap *Snapshot) (*Snapshot, error) {
	var u *unstructured.Unstructured
	if snap.base != nil {
		u = snap.base.DeepCopy()
	} else {
		u = &unstructured.Unstructured{
			Object: map[string]interface{}{
				"apiVersion": c.group + "/" + c.version,
				"kind":       ch.kind(),
				"metadata": map[string]interface{}{
					"name": ch.Name,
				},
			},
		}
		if !ch.Clustered() {
			u.SetNamespace(ch.Namespace)
		}
		u.SetResourceVersion(snap.Version)
	}
	u.Object["status"] = statusPayload(snap.Peers)
	if err := c.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	// Definitions with subresources.status enabled drop status changes on
	// the main endpoint, so such installs are written through /status.
	var subresources []string
	if c.subresource {
		subresources = append(subresources, "status")
	}
	obj, err := c.resource(ch).Update(u, metav1.UpdateOptions{}, subresources...)
	if err != nil {
		if apierrors.IsConflict(err) {
			writeConflicts.With(channelLabel.Value(ch.String())).Increment()
		}
		return nil, err
	}
	return snapshotFromObject(ch, obj), nil
}

// Mutate runs one guarded read-modify-write cycle against the channel: fetch
// the freshest peer set, apply fn, and write the result back under the read
// version. Lost version races are retried with the jittered in-cycle backoff;
// any other error is returned as is for the caller's next cycle to absorb.
func (c *Client) Mutate(ch Channel, fn MutateFn) (*Snapshot, error) {
	var out *Snapshot
	err := retry.RetryOnConflict(c.backoff, func() error {
		snap, err := c.Get(ch)
		if err != nil {
			return err
		}
		fn(snap.Peers)
		out, err = c.Update(ch, snap)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ensure returns the channel's snapshot, creating the peering object first if
// it does not exist.
func (c *Client) Ensure(ch Channel) (*Snapshot, error) {
	snap, err := c.Get(ch)
	if err == nil {
		return snap, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, err
	}
	return c.Create(ch)
}

// snapshotFromObject decodes a peering object into a snapshot.
func snapshotFromObject(ch Channel, obj *unstructured.Unstructured) *Snapshot {
	status, _, _ := unstructured.NestedMap(obj.Object, "status")
	return &Snapshot{
		Version: obj.GetResourceVersion(),
		Peers:   recordsFromStatus(ch, status),
		base:    obj,
	}
}
