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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opeering/peering/pkg/peering"
)

func TestGetRootCmd(t *testing.T) {
	rootCmd := GetRootCmd([]string{})

	found := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"server", "peers", "freeze", "resume", "install", "probe", "version", "collateral"} {
		assert.True(t, found[name], "missing command %q", name)
	}
}

func TestDescribePeers(t *testing.T) {
	now := time.Date(2019, time.July, 4, 12, 0, 0, 0, time.UTC)
	snap := &peering.Snapshot{
		Peers: map[string]peering.Peer{
			"boss":    {Identity: "boss", Priority: 10, LastSeen: now, Lifetime: time.Minute},
			"worker":  {Identity: "worker", Priority: 5, LastSeen: now, Lifetime: time.Minute},
			"watcher": {Identity: "watcher", Priority: 99, LastSeen: now, Lifetime: time.Minute, Standby: true},
			"gone":    {Identity: "gone", Priority: 50, LastSeen: now.Add(-time.Hour), Lifetime: time.Minute},
		},
	}

	infos := describePeers(snap, now)

	statuses := map[string]string{}
	for _, info := range infos {
		statuses[info.Identity] = info.Status
	}
	assert.Equal(t, map[string]string{
		"boss":    "active",
		"worker":  "frozen",
		"watcher": "standby",
		"gone":    "expired",
	}, statuses)

	// Strongest contender first, liveness notwithstanding.
	assert.Equal(t, "watcher", infos[0].Identity)
	assert.Equal(t, "gone", infos[1].Identity)
	assert.Equal(t, "boss", infos[2].Identity)
	assert.Equal(t, "worker", infos[3].Identity)
}

func TestDescribePeersEmptyChannel(t *testing.T) {
	infos := describePeers(&peering.Snapshot{Peers: map[string]peering.Peer{}}, time.Now())
	assert.Empty(t, infos)
}
