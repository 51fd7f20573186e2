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

// Package peering lets rival operator instances coexist without double
// processing.
//
// Instances meet on a channel: a single shared custom resource whose status
// holds one record per instance, refreshed on a keep-alive cadence and
// trusted only for a bounded lifetime. Every instance watches the channel,
// decides locally who the strongest live contender is, and processes
// resources only while that contender is itself. There is no election
// traffic: the decision is a pure function of the records and the clock, so
// all rivals reach the same verdict independently, and a crashed instance is
// succeeded as soon as its record expires.
//
// The typical embedding creates a Controller, wires its transitions to
// whatever gates the operator's reconciliation, and runs it for the process
// lifetime:
//
//	opts := peering.DefaultOptions()
//	opts.Namespace = "operators"
//	ctl, err := peering.NewController(dynClient, opts)
//	if err != nil {
//		// bad options
//	}
//	ctl.AddTransitionHandler(func(from, to peering.Mode) {
//		gate.Set(to == peering.ModeActive)
//	})
//	go ctl.Run(stop)
//
// Deployments that must take over manually can plant a high-priority record
// through the same records (see the freeze command of peerctl); every running
// instance then pauses until that record expires or is removed.
package peering
