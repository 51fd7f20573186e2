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
	"istio.io/pkg/log"
	"istio.io/pkg/monitoring"
)

var scope = log.RegisterScope("peering", "Peer presence and coexistence resolution", 0)

var (
	channelLabel = monitoring.MustCreateLabel("channel")
	fromLabel    = monitoring.MustCreateLabel("from")
	toLabel      = monitoring.MustCreateLabel("to")

	keepalives = monitoring.NewSum(
		"peering_keepalives_total",
		"Total number of keep-alive refreshes published.",
		monitoring.WithLabels(channelLabel),
	)

	keepaliveFailures = monitoring.NewSum(
		"peering_keepalive_failures_total",
		"Total number of keep-alive cycles that gave up on an error.",
		monitoring.WithLabels(channelLabel),
	)

	writeConflicts = monitoring.NewSum(
		"peering_write_conflicts_total",
		"Total number of peering writes that lost a version race.",
		monitoring.WithLabels(channelLabel),
	)

	prunedRecords = monitoring.NewSum(
		"peering_pruned_records_total",
		"Total number of expired peer records removed from the channel.",
		monitoring.WithLabels(channelLabel),
	)

	malformedRecords = monitoring.NewSum(
		"peering_malformed_records_total",
		"Total number of peer records skipped because they could not be decoded.",
		monitoring.WithLabels(channelLabel),
	)

	modeTransitions = monitoring.NewSum(
		"peering_mode_transitions_total",
		"Total number of operating mode changes.",
		monitoring.WithLabels(channelLabel, fromLabel, toLabel),
	)

	livePeers = monitoring.NewGauge(
		"peering_live_peers",
		"Number of live peer records currently visible on the channel.",
		monitoring.WithLabels(channelLabel),
	)
)

func init() {
	monitoring.MustRegister(
		keepalives,
		keepaliveFailures,
		writeConflicts,
		prunedRecords,
		malformedRecords,
		modeTransitions,
		livePeers,
	)
}
