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
	"github.com/opeering/peering/pkg/kube"
	"github.com/opeering/peering/pkg/peering"
)

func installCmd(printf, fatalf shared.FormatFn) *cobra.Command {
	var (
		opts         = peering.DefaultOptions()
		withDefaults bool
	)

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Register the peering resource definitions in a cluster",
		Long: "Install registers the cluster-scoped and namespaced peering resource " +
			"definitions and waits for the API server to establish them. With " +
			"--with-defaults it also creates the default peering object, so operators " +
			"can join the channel without create permissions of their own.",
		Run: func(cmd *cobra.Command, _ []string) {
			config, err := kube.BuildClientConfig(kubeConfig)
			if err != nil {
				fatalf("Unable to build a cluster client: %v", err)
			}
			if err := peering.RegisterResources(config, opts); err != nil {
				fatalf("Unable to register the peering definitions: %v", err)
			}
			printf("Registered the peering definitions under group %s/%s", opts.Group, opts.Version)

			if !withDefaults {
				return
			}
			client, err := storeClient(opts)
			if err != nil {
				fatalf("Unable to build a cluster client: %v", err)
			}
			ch := opts.Channel()
			if _, err := client.Ensure(ch); err != nil {
				fatalf("Unable to create the peering object %v: %v", ch, err)
			}
			printf("Created the peering object %v", ch)
		},
	}

	installCmd.PersistentFlags().StringVar(&opts.Name, "peering-name", opts.Name,
		"Name of the default peering object created with --with-defaults")
	installCmd.PersistentFlags().StringVar(&opts.Namespace, "peering-namespace", opts.Namespace,
		"Namespace of the default peering object; empty selects the cluster scope")
	installCmd.PersistentFlags().BoolVar(&withDefaults, "with-defaults", false,
		"Also create the default peering object on the selected channel")

	return installCmd
}
