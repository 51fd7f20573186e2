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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/tools/cache"
)

// Watcher follows one channel's peering object and turns its change stream
// into snapshots. The underlying informer re-lists after every watch
// disconnect, so a snapshot eventually reflects the stored state even across
// missed events.
type Watcher struct {
	ch       Channel
	informer cache.SharedInformer
	out      chan *Snapshot
}

// NewWatcher returns a watcher for the channel's peering object. Nothing is
// watched until Run is called.
func NewWatcher(dyn dynamic.Interface, ch Channel, opts *Options) *Watcher {
	res := dyn.Resource(ch.resource(opts.Group, opts.Version))
	var ri dynamic.ResourceInterface = res
	if !ch.Clustered() {
		ri = res.Namespace(ch.Namespace)
	}

	// Watch only the single object of interest, not the whole collection.
	sel := fields.OneTermEqualSelector("metadata.name", ch.Name).String()
	lw := &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			options.FieldSelector = sel
			return ri.List(options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			options.FieldSelector = sel
			return ri.Watch(options)
		},
	}

	w := &Watcher{
		ch:  ch,
		out: make(chan *Snapshot, 1),
	}
	w.informer = cache.NewSharedInformer(lw, &unstructured.Unstructured{}, 0)
	w.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: w.updated,
		UpdateFunc: func(_, cur interface{}) {
			w.updated(cur)
		},
		DeleteFunc: w.deleted,
	})
	return w
}

// Run starts watching and blocks until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) {
	w.informer.Run(stop)
}

// HasSynced reports whether the initial listing was completed.
func (w *Watcher) HasSynced() bool {
	return w.informer.HasSynced()
}

// Snapshots returns the channel on which fresh observations arrive. Delivery
// coalesces: when the consumer lags, stale observations are dropped so that
// only the latest one is pending.
func (w *Watcher) Snapshots() <-chan *Snapshot {
	return w.out
}

func (w *Watcher) updated(obj interface{}) {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		scope.Warnf("Unexpected object type on channel %v watch: %T", w.ch, obj)
		return
	}
	// Fake clients and old servers may deliver unfiltered events.
	if u.GetName() != w.ch.Name {
		return
	}
	w.push(snapshotFromObject(w.ch, u))
}

func (w *Watcher) deleted(obj interface{}) {
	if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		scope.Warnf("Unexpected object type on channel %v watch: %T", w.ch, obj)
		return
	}
	if u.GetName() != w.ch.Name {
		return
	}
	scope.Warnf("Peering object %v was deleted; all peers are now invisible", w.ch)
	w.push(&Snapshot{Peers: map[string]Peer{}})
}

// push delivers a snapshot, displacing an undelivered older one if needed.
func (w *Watcher) push(s *Snapshot) {
	for {
		select {
		case w.out <- s:
			return
		default:
		}
		select {
		case <-w.out:
		default:
		}
	}
}
