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
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"istio.io/pkg/collateral"
	"istio.io/pkg/log"
	"istio.io/pkg/version"

	"github.com/opeering/peering/cmd/shared"
	"github.com/opeering/peering/pkg/kube"
	"github.com/opeering/peering/pkg/peering"
)

var (
	kubeConfig     string
	loggingOptions = log.DefaultOptions()
)

// GetRootCmd returns the root of the cobra command-tree.
func GetRootCmd(args []string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "peerctl",
		Short: "Peer presence and coexistence coordination for Kubernetes operators.",
		Long: "peerctl runs and inspects peering channels: the presence records through " +
			"which rival operator instances agree on which one of them processes resources.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%q is an invalid argument", args[0])
			}
			return nil
		},
	}

	rootCmd.SetArgs(args)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.PersistentFlags().StringVar(&kubeConfig, "kubeconfig", "",
		"Use a Kubernetes configuration file instead of in-cluster configuration")

	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(peersCmd(shared.Printf, shared.Fatalf))
	rootCmd.AddCommand(freezeCmd(shared.Printf, shared.Fatalf))
	rootCmd.AddCommand(resumeCmd(shared.Printf, shared.Fatalf))
	rootCmd.AddCommand(installCmd(shared.Printf, shared.Fatalf))
	rootCmd.AddCommand(probeCmd(shared.Printf, shared.Fatalf))
	rootCmd.AddCommand(version.CobraCommand())
	rootCmd.AddCommand(collateral.CobraCommand(rootCmd, &doc.GenManHeader{
		Title:   "Peering Agent",
		Section: "peerctl CLI",
		Manual:  "Peering Agent",
	}))

	loggingOptions.AttachCobraFlags(rootCmd)

	return rootCmd
}

// storeClient connects a peering store client per the --kubeconfig flag.
func storeClient(opts *peering.Options) (*peering.Client, error) {
	dyn, err := kube.DynamicClient(kubeConfig, opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	return peering.NewClient(dyn, opts), nil
}
