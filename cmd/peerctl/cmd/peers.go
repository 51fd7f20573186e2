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
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/opeering/peering/cmd/shared"
	"github.com/opeering/peering/pkg/peering"
)

// peerInfo is the printable view of one record on a channel.
type peerInfo struct {
	Identity string    `json:"identity"`
	Priority int       `json:"priority"`
	LastSeen time.Time `json:"lastseen"`
	Lifetime string    `json:"lifetime"`
	Standby  bool      `json:"standby,omitempty"`
	Status   string    `json:"status"`
}

func peersCmd(printf, fatalf shared.FormatFn) *cobra.Command {
	var (
		opts   = peering.DefaultOptions()
		output string
	)

	peersCmd := &cobra.Command{
		Use:   "peers",
		Short: "List the records present on a peering channel",
		Run: func(cmd *cobra.Command, _ []string) {
			client, err := storeClient(opts)
			if err != nil {
				fatalf("Unable to build a cluster client: %v", err)
			}
			ch := opts.Channel()
			snap, err := client.Get(ch)
			if err != nil {
				fatalf("Unable to read channel %v: %v", ch, err)
			}

			infos := describePeers(snap, time.Now())
			switch output {
			case "table":
				if len(infos) == 0 {
					printf("No peers on channel %v", ch)
					return
				}
				w := new(tabwriter.Writer).Init(os.Stdout, 0, 8, 5, ' ', 0)
				fmt.Fprintln(w, "IDENTITY\tPRIORITY\tLAST SEEN\tLIFETIME\tSTATUS")
				for _, info := range infos {
					fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n",
						info.Identity, info.Priority, info.LastSeen.Format(time.RFC3339), info.Lifetime, info.Status)
				}
				_ = w.Flush()
			case "yaml":
				out, err := yaml.Marshal(infos)
				if err != nil {
					fatalf("Unable to render records: %v", err)
				}
				fmt.Print(string(out))
			default:
				fatalf("Unknown output format %q; expected table or yaml", output)
			}
		},
	}

	peersCmd.PersistentFlags().StringVar(&opts.Name, "peering-name", opts.Name,
		"Name of the peering object to inspect")
	peersCmd.PersistentFlags().StringVar(&opts.Namespace, "peering-namespace", opts.Namespace,
		"Namespace of the peering object; empty selects the cluster-scoped object")
	peersCmd.PersistentFlags().StringVar(&output, "output", "table",
		"Output format: one of table|yaml")

	return peersCmd
}

// describePeers classifies every record of a snapshot the way a running
// instance would: dead records are expired, live ones are active, standby or
// frozen depending on who holds the channel.
func describePeers(snap *peering.Snapshot, now time.Time) []peerInfo {
	records := snap.Records()
	winner, contended := peering.Winner(records, now)

	infos := make([]peerInfo, 0, len(records))
	for _, p := range records {
		status := "expired"
		switch {
		case !p.AliveAt(now):
		case p.Standby:
			status = "standby"
		case contended && p.Identity == winner.Identity:
			status = "active"
		default:
			status = "frozen"
		}
		infos = append(infos, peerInfo{
			Identity: p.Identity,
			Priority: p.Priority,
			LastSeen: p.LastSeen,
			Lifetime: p.Lifetime.String(),
			Standby:  p.Standby,
			Status:   status,
		})
	}
	return infos
}
