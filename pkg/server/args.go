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

package server

import (
	"bytes"
	"fmt"
	"time"

	"istio.io/pkg/ctrlz"
	"istio.io/pkg/log"
	"istio.io/pkg/probe"

	"github.com/opeering/peering/pkg/peering"
)

// Args contains the startup arguments to instantiate the peering agent.
type Args struct {
	// The path to kube configuration file. An empty string selects
	// in-cluster configuration.
	KubeConfig string

	// Peering carries the channel, identity and cadence configuration for
	// the coexistence controller hosted by the agent.
	Peering *peering.Options

	// ReportInterval controls how often the agent logs a summary of the
	// peers it currently sees. Zero disables the periodic report.
	ReportInterval time.Duration

	// The logging options to use
	LoggingOptions *log.Options

	// The path to the file which indicates the liveness of the server by its existence.
	// This will be used for k8s liveness probe. If empty, it does nothing.
	LivenessProbeOptions *probe.Options

	// The path to the file for readiness probe, similar to LivenessProbeOptions.
	ReadinessProbeOptions *probe.Options

	// The introspection options to use
	IntrospectionOptions *ctrlz.Options
}

// DefaultArgs allocates an Args struct initialized with the agent's default configuration.
func DefaultArgs() *Args {
	return &Args{
		Peering:               peering.DefaultOptions(),
		ReportInterval:        time.Minute,
		LoggingOptions:        log.DefaultOptions(),
		LivenessProbeOptions:  &probe.Options{},
		ReadinessProbeOptions: &probe.Options{},
		IntrospectionOptions:  ctrlz.DefaultOptions(),
	}
}

func (a *Args) validate() error {
	if a.Peering == nil {
		return fmt.Errorf("peering options must be specified")
	}
	if a.ReportInterval < 0 {
		return fmt.Errorf("report interval must be >= 0, got %v", a.ReportInterval)
	}
	return a.Peering.Validate()
}

// String produces a stringified version of the arguments for debugging.
func (a *Args) String() string {
	buf := &bytes.Buffer{}

	fmt.Fprintln(buf, "KubeConfig: ", a.KubeConfig)
	fmt.Fprintln(buf, "ReportInterval: ", a.ReportInterval)
	fmt.Fprintf(buf, "Peering: %v", a.Peering)
	fmt.Fprintf(buf, "IntrospectionOptions: %#v\n", *a.IntrospectionOptions)

	return buf.String()
}
