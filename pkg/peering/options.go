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
	"bytes"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/clock"

	"istio.io/pkg/env"
)

const (
	// DefaultRecheckInterval is the default period of the time-based
	// re-evaluation of the operating mode.
	DefaultRecheckInterval = 5 * time.Second

	// DefaultRequestTimeout is the default timeout applied to individual
	// requests against the peering objects.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultConflictRetries is the default number of immediate retries of
	// a read-modify-write cycle that lost a version race.
	DefaultConflictRetries = 4
)

var (
	nameVar = env.RegisterStringVar("PEERING_NAME", DefaultChannelName,
		"Name of the peering object this instance coordinates through.")
	namespaceVar = env.RegisterStringVar("POD_NAMESPACE", "",
		"Namespace of the peering object. Empty selects the cluster-scoped object.")
	priorityVar = env.RegisterIntVar("PEERING_PRIORITY", DefaultPriority,
		"Peering priority of this instance. The highest-priority live peer wins.")
	standbyVar = env.RegisterBoolVar("PEERING_STANDBY", false,
		"Keeps this instance present on the channel but never lets it take over.")
)

// Options configures how one operator instance takes part in peering.
//
// The zero value is not usable; start from DefaultOptions. All fields may be
// adjusted before the options are handed to NewController, and must not be
// changed afterwards.
type Options struct {
	// Name of the peering object to coordinate through.
	Name string

	// Namespace of the peering object. Empty selects the cluster-scoped
	// object.
	Namespace string

	// Identity of this instance on the channel. When empty, an identity is
	// detected at controller construction time.
	Identity string

	// Priority of this instance. The highest-priority live peer takes over
	// the processing; everyone else pauses.
	Priority int

	// Standby keeps the instance visible on the channel without ever
	// letting it take over.
	Standby bool

	// Standalone disables peering entirely: the instance processes
	// resources unconditionally and publishes no presence.
	Standalone bool

	// Mandatory makes a missing peering object a startup error instead of
	// a fallback to standalone processing.
	Mandatory bool

	// AutoCreate makes the controller create the peering object on startup
	// if it does not exist yet.
	AutoCreate bool

	// Interval between keep-alive refreshes. Must be shorter than half the
	// Lifetime, or a single missed refresh would look like a death.
	Interval time.Duration

	// Lifetime of the published record: how long rivals keep trusting the
	// presence of this instance after its last refresh.
	Lifetime time.Duration

	// RecheckInterval bounds how long a records-driven decision may stay
	// stale: expiry of a rival is a clock event, not a storage event, so
	// the mode is additionally re-evaluated this often.
	RecheckInterval time.Duration

	// RequestTimeout applies to individual requests against the peering
	// objects.
	RequestTimeout time.Duration

	// ConflictRetries is how many times a read-modify-write cycle retries
	// immediately after losing a version race before giving up until the
	// next cycle.
	ConflictRetries int

	// Group is the API group of the peering custom resources.
	Group string

	// Version is the API version of the peering custom resources.
	Version string

	// StatusSubresource routes record writes through the status subresource.
	// Required when the peering definitions enable subresources.status: the
	// main endpoint silently drops status changes there. The stock
	// definitions do not enable it.
	StatusSubresource bool

	// Clock supplies time to liveness checks and keep-alive schedules.
	// Leave nil outside of tests.
	Clock clock.Clock
}

// DefaultOptions returns the canonical peering configuration: the "default"
// channel, neutral priority, and the stock keep-alive cadence. Environment
// variables provide the deployment-side overrides.
func DefaultOptions() *Options {
	return &Options{
		Name:            nameVar.Get(),
		Namespace:       namespaceVar.Get(),
		Priority:        priorityVar.Get(),
		Standby:         standbyVar.Get(),
		AutoCreate:      true,
		Interval:        DefaultInterval,
		Lifetime:        DefaultLifetime,
		RecheckInterval: DefaultRecheckInterval,
		RequestTimeout:  DefaultRequestTimeout,
		ConflictRetries: DefaultConflictRetries,
		Group:           DefaultGroup,
		Version:         DefaultVersion,
	}
}

// Channel returns the channel selected by the options.
func (o *Options) Channel() Channel {
	return Channel{Name: o.Name, Namespace: o.Namespace}
}

// Validate returns nil if the options describe a runnable configuration.
func (o *Options) Validate() error {
	var errs error
	if o.Name == "" {
		errs = multierror.Append(errs, fmt.Errorf("peering name must not be empty"))
	}
	if o.Lifetime <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("lifetime must be positive, got %v", o.Lifetime))
	}
	if o.Interval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("keep-alive interval must be positive, got %v", o.Interval))
	} else if o.Lifetime > 0 && 2*o.Interval >= o.Lifetime {
		errs = multierror.Append(errs, fmt.Errorf(
			"keep-alive interval %v must be shorter than half the lifetime %v", o.Interval, o.Lifetime))
	}
	if o.RecheckInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("recheck interval must be positive, got %v", o.RecheckInterval))
	}
	if o.RequestTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("request timeout must be positive, got %v", o.RequestTimeout))
	}
	if o.ConflictRetries < 1 {
		errs = multierror.Append(errs, fmt.Errorf("conflict retries must be at least 1, got %d", o.ConflictRetries))
	}
	if o.Group == "" || o.Version == "" {
		errs = multierror.Append(errs, fmt.Errorf("API group and version must not be empty"))
	}
	if o.Standalone && o.Mandatory {
		errs = multierror.Append(errs, fmt.Errorf("standalone and mandatory modes are mutually exclusive"))
	}
	return errs
}

// AttachCobraFlags attaches the peering flag set to the given command.
func (o *Options) AttachCobraFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.Name, "peering-name", o.Name,
		"Name of the peering object to coordinate through")
	cmd.PersistentFlags().StringVar(&o.Namespace, "peering-namespace", o.Namespace,
		"Namespace of the peering object; empty selects the cluster-scoped object")
	cmd.PersistentFlags().StringVar(&o.Identity, "identity", o.Identity,
		"Identity of this instance on the channel; autodetected when empty")
	cmd.PersistentFlags().IntVar(&o.Priority, "priority", o.Priority,
		"Peering priority of this instance; the highest-priority live peer wins")
	cmd.PersistentFlags().BoolVar(&o.Standby, "standby", o.Standby,
		"Keep the instance present on the channel without ever taking over")
	cmd.PersistentFlags().BoolVar(&o.Standalone, "standalone", o.Standalone,
		"Disable peering and process resources unconditionally")
	cmd.PersistentFlags().BoolVar(&o.Mandatory, "mandatory", o.Mandatory,
		"Fail startup when the peering object does not exist")
	cmd.PersistentFlags().BoolVar(&o.AutoCreate, "auto-create", o.AutoCreate,
		"Create the peering object on startup if it does not exist")
	cmd.PersistentFlags().DurationVar(&o.Interval, "interval", o.Interval,
		"Period between keep-alive refreshes; must be shorter than half the lifetime")
	cmd.PersistentFlags().DurationVar(&o.Lifetime, "lifetime", o.Lifetime,
		"How long rivals keep trusting this instance's presence after its last refresh")
	cmd.PersistentFlags().BoolVar(&o.StatusSubresource, "status-subresource", o.StatusSubresource,
		"Write records through the status subresource; needed when the definitions enable it")
}

// String produces a stringified version of the options for debugging.
func (o *Options) String() string {
	buf := &bytes.Buffer{}
	_, _ = fmt.Fprintf(buf, "Name: %s\n", o.Name)
	_, _ = fmt.Fprintf(buf, "Namespace: %s\n", o.Namespace)
	_, _ = fmt.Fprintf(buf, "Identity: %s\n", o.Identity)
	_, _ = fmt.Fprintf(buf, "Priority: %d\n", o.Priority)
	_, _ = fmt.Fprintf(buf, "Standby: %t\n", o.Standby)
	_, _ = fmt.Fprintf(buf, "Standalone: %t\n", o.Standalone)
	_, _ = fmt.Fprintf(buf, "Mandatory: %t\n", o.Mandatory)
	_, _ = fmt.Fprintf(buf, "AutoCreate: %t\n", o.AutoCreate)
	_, _ = fmt.Fprintf(buf, "Interval: %v\n", o.Interval)
	_, _ = fmt.Fprintf(buf, "Lifetime: %v\n", o.Lifetime)
	_, _ = fmt.Fprintf(buf, "RecheckInterval: %v\n", o.RecheckInterval)
	_, _ = fmt.Fprintf(buf, "RequestTimeout: %v\n", o.RequestTimeout)
	_, _ = fmt.Fprintf(buf, "ConflictRetries: %d\n", o.ConflictRetries)
	_, _ = fmt.Fprintf(buf, "Group: %s\n", o.Group)
	_, _ = fmt.Fprintf(buf, "Version: %s\n", o.Version)
	_, _ = fmt.Fprintf(buf, "StatusSubresource: %t\n", o.StatusSubresource)
	return buf.String()
}

// selfRecord builds this instance's own record stamped at the given instant.
func (o *Options) selfRecord(now time.Time) Peer {
	return Peer{
		Identity: o.Identity,
		Priority: o.Priority,
		LastSeen: now,
		Lifetime: o.Lifetime,
		Standby:  o.Standby,
	}
}

// clock returns the configured time source, or the wall clock.
func (o *Options) clock() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.RealClock{}
}
