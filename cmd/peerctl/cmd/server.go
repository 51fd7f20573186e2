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

package cmd

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"istio.io/pkg/log"
	"istio.io/pkg/probe"

	peeringcmd "github.com/opeering/peering/pkg/cmd"
	"github.com/opeering/peering/pkg/server"
)

func serverCmd() *cobra.Command {

	var (
		serverArgs               = server.DefaultArgs()
		livenessProbeOptions     probe.Options
		readinessProbeOptions    probe.Options
		livenessProbeController  probe.Controller
		readinessProbeController probe.Controller
		monitoringPort           uint
		enableProfiling          bool
		pprofPort                uint
	)

	serverCmd := &cobra.Command{
		Use:          "server",
		Short:        "Starts the peering agent as a server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%q is an invalid argument", args[0])
			}
			return log.Configure(loggingOptions)
		},
		Run: func(cmd *cobra.Command, args []string) {
			// Retrieve Viper values for each Cobra Val Flag
			viper.SetTypeByDefaultValue(true)
			cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
				if reflect.TypeOf(viper.Get(f.Name)).Kind() == reflect.Slice {
					// Viper cannot convert slices to strings, so this is our workaround.
					_ = f.Value.Set(strings.Join(viper.GetStringSlice(f.Name), ","))
				} else {
					_ = f.Value.Set(viper.GetString(f.Name))
				}
			})

			serverArgs.KubeConfig = kubeConfig

			if livenessProbeOptions.IsValid() {
				livenessProbeController = probe.NewFileController(&livenessProbeOptions)
			}
			if readinessProbeOptions.IsValid() {
				readinessProbeController = probe.NewFileController(&readinessProbeOptions)
			}

			agentStop := make(chan struct{})
			agentDone := make(chan struct{})
			go func() {
				server.RunServer(serverArgs, agentStop, livenessProbeController, readinessProbeController)
				close(agentDone)
			}()
			go server.StartSelfMonitoring(agentStop, monitoringPort)

			if enableProfiling {
				go server.StartProfiling(agentStop, pprofPort)
			}

			go server.StartProbeCheck(livenessProbeController, readinessProbeController, agentStop)
			peeringcmd.WaitSignal(agentStop)

			// A graceful exit retracts the presence record so that the
			// stand-ins take over immediately instead of waiting out the
			// record's lifetime.
			<-agentDone
		},
	}

	serverCmd.PersistentFlags().DurationVar(&serverArgs.ReportInterval, "reportInterval", serverArgs.ReportInterval,
		"Interval of the periodic membership report in the log; 0 disables the report")
	serverCmd.PersistentFlags().StringVar(&livenessProbeOptions.Path, "livenessProbePath", server.DefaultLivenessProbeFilePath,
		"Path to the file for the agent liveness probe.")
	serverCmd.PersistentFlags().DurationVar(&livenessProbeOptions.UpdateInterval, "livenessProbeInterval", server.DefaultProbeCheckInterval,
		"Interval of updating file for the agent liveness probe.")
	serverCmd.PersistentFlags().StringVar(&readinessProbeOptions.Path, "readinessProbePath", server.DefaultReadinessProbeFilePath,
		"Path to the file for the agent readiness probe.")
	serverCmd.PersistentFlags().DurationVar(&readinessProbeOptions.UpdateInterval, "readinessProbeInterval", server.DefaultProbeCheckInterval,
		"Interval of updating file for the agent readiness probe.")
	serverCmd.PersistentFlags().UintVar(&monitoringPort, "monitoringPort", 15014,
		"Port to use for exposing self-monitoring information")
	serverCmd.PersistentFlags().UintVar(&pprofPort, "pprofPort", 9094, "Port to use for exposing profiling")
	serverCmd.PersistentFlags().BoolVar(&enableProfiling, "enableProfiling", false,
		"Enable profiling for the agent")

	serverArgs.Peering.AttachCobraFlags(serverCmd)
	serverArgs.IntrospectionOptions.AttachCobraFlags(serverCmd)
	_ = viper.BindPFlags(serverCmd.PersistentFlags())

	return serverCmd
}
