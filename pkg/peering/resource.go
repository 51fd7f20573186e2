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

	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// DefaultChannelName is the name of the peering object used when the
	// operator is started without an explicit channel name.
	DefaultChannelName = "default"

	// DefaultGroup is the API group of the peering custom resources.
	DefaultGroup = "zalando.org"

	// DefaultVersion is the API version of the peering custom resources.
	DefaultVersion = "v1"

	// ClusterResourcePlural is the plural resource name of the cluster-scoped
	// peering objects.
	ClusterResourcePlural = "clusterkopfpeerings"

	// NamespacedResourcePlural is the plural resource name of the namespaced
	// peering objects.
	NamespacedResourcePlural = "kopfpeerings"

	// ClusterResourceKind is the kind of the cluster-scoped peering objects.
	ClusterResourceKind = "ClusterKopfPeering"

	// NamespacedResourceKind is the kind of the namespaced peering objects.
	NamespacedResourceKind = "KopfPeering"
)

// Channel identifies one peering object: the rendezvous point through which a
// group of rival operator instances coordinates. Instances sharing a channel
// contend for the right to process resources; instances on different channels
// ignore each other.
//
// A channel with an empty Namespace refers to a cluster-scoped peering object,
// otherwise to a namespaced one. The zero value is not usable; use the
// Options.Channel accessor or fill both fields explicitly.
type Channel struct {
	// Name of the peering object.
	Name string

	// Namespace of the peering object. Empty means cluster-scoped.
	Namespace string
}

// Clustered reports whether the channel refers to a cluster-scoped peering
// object.
func (ch Channel) Clustered() bool {
	return ch.Namespace == ""
}

// String returns a human-readable description of the channel for logs.
func (ch Channel) String() string {
	if ch.Clustered() {
		return fmt.Sprintf("%s (cluster-wide)", ch.Name)
	}
	return fmt.Sprintf("%s in %s", ch.Name, ch.Namespace)
}

// resource returns the dynamic-client coordinates of the channel's backing
// resource under the given API group and version.
func (ch Channel) resource(group, version string) schema.GroupVersionResource {
	if ch.Clustered() {
		return schema.GroupVersionResource{Group: group, Version: version, Resource: ClusterResourcePlural}
	}
	return schema.GroupVersionResource{Group: group, Version: version, Resource: NamespacedResourcePlural}
}

// kind returns the kind of the channel's backing resource.
func (ch Channel) kind() string {
	if ch.Clustered() {
		return ClusterResourceKind
	}
	return NamespacedResourceKind
}
