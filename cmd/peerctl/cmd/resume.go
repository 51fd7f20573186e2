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
	"github.com/spf13/cobra"

	"github.com/opeering/peering/cmd/shared"
	"github.com/opeering/peering/pkg/peering"
)

func resumeCmd(printf, fatalf shared.FormatFn) *cobra.Command {
	var (
		opts     = peering.DefaultOptions()
		identity string
	)

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Lift a freeze from a peering channel",
		Long: "Resume removes a previously planted freeze record so the strongest live " +
			"operator takes the channel back without waiting for the record to expire.",
		Run: func(cmd *cobra.Command, _ []string) {
			if identity == "" {
				identity = peering.DetectManualIdentity()
			}
			client, err := storeClient(opts)
			if err != nil {
				fatalf("Unable to build a cluster client: %v", err)
			}

			ch := opts.Channel()
			removed := false
			if _, err := client.Mutate(ch, func(peers map[string]peering.Peer) {
				_, removed = peers[identity]
				delete(peers, identity)
			}); err != nil {
				fatalf("Unable to resume channel %v: %v", ch, err)
			}
			if !removed {
				printf("No record of %q on channel %v; nothing to resume", identity, ch)
				return
			}
			printf("Resumed channel %v: removed the record of %q", ch, identity)
		},
	}

	resumeCmd.PersistentFlags().StringVar(&opts.Name, "peering-name", opts.Name,
		"Name of the peering object to resume")
	resumeCmd.PersistentFlags().StringVar(&opts.Namespace, "peering-namespace", opts.Namespace,
		"Namespace of the peering object; empty selects the cluster-scoped object")
	resumeCmd.PersistentFlags().StringVar(&identity, "identity", "",
		"Identity whose freeze record to remove; user@host when empty")

	return resumeCmd
}
