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
	"time"

	"github.com/spf13/cobra"

	"github.com/opeering/peering/cmd/shared"
	"github.com/opeering/peering/pkg/peering"
)

func freezeCmd(printf, fatalf shared.FormatFn) *cobra.Command {
	var (
		opts     = peering.DefaultOptions()
		identity string
		priority int
		lifetime time.Duration
	)

	freezeCmd := &cobra.Command{
		Use:   "freeze",
		Short: "Pause the operators on a peering channel",
		Long: "Freeze plants a high-priority presence record on the channel. Every operator " +
			"outranked by the record pauses its processing until the record is lifted with " +
			"resume, or expires at the end of its lifetime.",
		Run: func(cmd *cobra.Command, _ []string) {
			if identity == "" {
				identity = peering.DetectManualIdentity()
			}
			client, err := storeClient(opts)
			if err != nil {
				fatalf("Unable to build a cluster client: %v", err)
			}

			ch := opts.Channel()
			record := peering.Peer{
				Identity: identity,
				Priority: priority,
				LastSeen: time.Now().UTC(),
				Lifetime: lifetime,
			}
			if _, err := client.Mutate(ch, func(peers map[string]peering.Peer) {
				peers[identity] = record
			}); err != nil {
				fatalf("Unable to freeze channel %v: %v", ch, err)
			}
			printf("Froze channel %v under %v for %v", ch, record, lifetime)
		},
	}

	freezeCmd.PersistentFlags().StringVar(&opts.Name, "peering-name", opts.Name,
		"Name of the peering object to freeze")
	freezeCmd.PersistentFlags().StringVar(&opts.Namespace, "peering-namespace", opts.Namespace,
		"Namespace of the peering object; empty selects the cluster-scoped object")
	freezeCmd.PersistentFlags().StringVar(&identity, "identity", "",
		"Identity to publish the freeze record under; user@host when empty")
	freezeCmd.PersistentFlags().IntVar(&priority, "priority", peering.DefaultFreezePriority,
		"Priority of the freeze record; it must outrank the operators to pause them")
	freezeCmd.PersistentFlags().DurationVar(&lifetime, "lifetime", peering.DefaultLifetime,
		"How long the freeze lasts unless renewed or resumed earlier")

	return freezeCmd
}
