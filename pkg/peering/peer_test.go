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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	seen := time.Date(2019, 6, 24, 10, 35, 44, 123456000, time.UTC)

	cases := []struct {
		name    string
		raw     interface{}
		want    Peer
		wantErr bool
	}{
		{
			name: "zoned timestamp",
			raw: map[string]interface{}{
				"priority": int64(3),
				"lastseen": "2019-06-24T10:35:44.123456Z",
				"lifetime": int64(90),
			},
			want: Peer{Identity: "a", Priority: 3, LastSeen: seen, Lifetime: 90 * time.Second},
		},
		{
			name: "zoneless timestamp is read as UTC",
			raw: map[string]interface{}{
				"priority": int64(3),
				"lastseen": "2019-06-24T10:35:44.123456",
				"lifetime": int64(90),
			},
			want: Peer{Identity: "a", Priority: 3, LastSeen: seen, Lifetime: 90 * time.Second},
		},
		{
			name: "whole seconds only",
			raw: map[string]interface{}{
				"lastseen": "2019-06-24T10:35:44",
			},
			want: Peer{Identity: "a", LastSeen: seen.Truncate(time.Second), Lifetime: DefaultLifetime},
		},
		{
			name: "numbers decoded as floats",
			raw: map[string]interface{}{
				"priority": float64(2),
				"lastseen": "2019-06-24T10:35:44.123456Z",
				"lifetime": float64(45),
			},
			want: Peer{Identity: "a", Priority: 2, LastSeen: seen, Lifetime: 45 * time.Second},
		},
		{
			name: "missing fields get defaults",
			raw: map[string]interface{}{
				"lastseen": "2019-06-24T10:35:44.123456Z",
			},
			want: Peer{Identity: "a", Priority: DefaultPriority, LastSeen: seen, Lifetime: DefaultLifetime},
		},
		{
			name: "standby",
			raw: map[string]interface{}{
				"lastseen": "2019-06-24T10:35:44.123456Z",
				"standby":  true,
			},
			want: Peer{Identity: "a", LastSeen: seen, Lifetime: DefaultLifetime, Standby: true},
		},
		{
			name: "unknown fields are ignored",
			raw: map[string]interface{}{
				"lastseen": "2019-06-24T10:35:44.123456Z",
				"flavour":  "vanilla",
			},
			want: Peer{Identity: "a", LastSeen: seen, Lifetime: DefaultLifetime},
		},
		{
			name:    "not an object",
			raw:     "garbage",
			wantErr: true,
		},
		{
			name:    "missing lastseen",
			raw:     map[string]interface{}{"priority": int64(1)},
			wantErr: true,
		},
		{
			name:    "unparseable lastseen",
			raw:     map[string]interface{}{"lastseen": "yesterday"},
			wantErr: true,
		},
		{
			name:    "lastseen of a wrong type",
			raw:     map[string]interface{}{"lastseen": int64(12345)},
			wantErr: true,
		},
		{
			name: "priority of a wrong type",
			raw: map[string]interface{}{
				"priority": "high",
				"lastseen": "2019-06-24T10:35:44.123456Z",
			},
			wantErr: true,
		},
		{
			name: "standby of a wrong type",
			raw: map[string]interface{}{
				"lastseen": "2019-06-24T10:35:44.123456Z",
				"standby":  "yes",
			},
			wantErr: true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := parseRecord("a", c.raw)
			if c.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestAliveAt(t *testing.T) {
	seen := time.Date(2019, 6, 24, 10, 0, 0, 0, time.UTC)
	p := Peer{Identity: "a", LastSeen: seen, Lifetime: 30 * time.Second}

	assert.True(t, p.AliveAt(seen))
	assert.True(t, p.AliveAt(seen.Add(29*time.Second)))
	// The deadline itself is already dead: alive means strictly before it.
	assert.False(t, p.AliveAt(seen.Add(30*time.Second)))
	assert.False(t, p.AliveAt(seen.Add(time.Hour)))
	assert.Equal(t, seen.Add(30*time.Second), p.Deadline())
}

func TestOutranks(t *testing.T) {
	assert.True(t, outranks(Peer{Identity: "b", Priority: 2}, Peer{Identity: "a", Priority: 1}))
	assert.False(t, outranks(Peer{Identity: "a", Priority: 1}, Peer{Identity: "b", Priority: 2}))
	// Ties break towards the smaller identity.
	assert.True(t, outranks(Peer{Identity: "a", Priority: 1}, Peer{Identity: "b", Priority: 1}))
	assert.False(t, outranks(Peer{Identity: "b", Priority: 1}, Peer{Identity: "a", Priority: 1}))
	assert.False(t, outranks(Peer{Identity: "a", Priority: 1}, Peer{Identity: "a", Priority: 1}))
}

func TestSortByRank(t *testing.T) {
	peers := []Peer{
		{Identity: "c", Priority: 1},
		{Identity: "a", Priority: 1},
		{Identity: "b", Priority: 9},
	}
	sortByRank(peers)

	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.Identity)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestStatusPayload(t *testing.T) {
	seen := time.Date(2019, 6, 24, 10, 35, 44, 123456000, time.UTC)
	peers := map[string]Peer{
		"a": {Identity: "a", Priority: 1, LastSeen: seen, Lifetime: 60 * time.Second},
		"b": {Identity: "b", LastSeen: seen, Lifetime: 30 * time.Second, Standby: true},
	}

	status := statusPayload(peers)
	require.Len(t, status, 2)

	a := status["a"].(map[string]interface{})
	assert.Equal(t, int64(1), a["priority"])
	assert.Equal(t, "2019-06-24T10:35:44.123456Z", a["lastseen"])
	assert.Equal(t, int64(60), a["lifetime"])
	// Standby is omitted when false, not written as false.
	_, ok := a["standby"]
	assert.False(t, ok)

	b := status["b"].(map[string]interface{})
	assert.Equal(t, true, b["standby"])

	// What was written must decode back to the same records.
	back := recordsFromStatus(Channel{Name: "default"}, status)
	assert.Equal(t, peers, back)
}

func TestRecordsFromStatus(t *testing.T) {
	status := map[string]interface{}{
		"good": map[string]interface{}{
			"lastseen": "2019-06-24T10:35:44.123456Z",
		},
		"broken": "not-a-record",
	}

	peers := recordsFromStatus(Channel{Name: "default"}, status)
	require.Len(t, peers, 1)
	_, ok := peers["good"]
	assert.True(t, ok)

	assert.Empty(t, recordsFromStatus(Channel{Name: "default"}, nil))
}
