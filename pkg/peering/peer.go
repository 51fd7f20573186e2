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
	"fmt"
	"sort"
	"time"
)

const (
	// DefaultLifetime is how long a peer record stays valid without a
	// keep-alive refresh.
	DefaultLifetime = 60 * time.Second

	// DefaultInterval is the default keep-alive publication period.
	DefaultInterval = 20 * time.Second

	// DefaultPriority is the priority assumed for records that do not carry
	// one.
	DefaultPriority = 0

	// DefaultFreezePriority is the priority of manually planted freeze
	// records. It outranks operators left at the default priority.
	DefaultFreezePriority = 100
)

// lastSeenLayout is the timestamp format written into peer records. It is a
// microsecond-precision RFC 3339 stamp in UTC, which older publishers also
// accept.
const lastSeenLayout = "2006-01-02T15:04:05.000000Z07:00"

// naiveLastSeenLayout matches timestamps written without a zone designator by
// older publishers. Such stamps are interpreted as UTC.
const naiveLastSeenLayout = "2006-01-02T15:04:05.999999"

// Peer is one operator instance's record on a peering channel: who it is, how
// it ranks against its rivals, and until when its presence can be trusted.
type Peer struct {
	// Identity uniquely names the operator instance within its channel.
	Identity string

	// Priority ranks the instance against its rivals. Higher wins.
	Priority int

	// LastSeen is the instant of the last keep-alive refresh, in UTC.
	LastSeen time.Time

	// Lifetime is how long past LastSeen the record remains valid.
	Lifetime time.Duration

	// Standby marks an instance that maintains presence but never takes
	// over the processing, regardless of its priority.
	Standby bool
}

// Deadline returns the instant at which the record expires.
func (p Peer) Deadline() time.Time {
	return p.LastSeen.Add(p.Lifetime)
}

// AliveAt reports whether the record is still valid at the given instant.
// Liveness is a pure function of the record and the clock: no API traffic is
// needed to observe a peer's death.
func (p Peer) AliveAt(now time.Time) bool {
	return now.Before(p.Deadline())
}

// String returns a compact description of the peer for logs.
func (p Peer) String() string {
	return fmt.Sprintf("%s (priority %d)", p.Identity, p.Priority)
}

// outranks reports whether a beats b in the takeover order: higher priority
// first, with the lexicographically smaller identity breaking ties.
func outranks(a, b Peer) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Identity < b.Identity
}

// sortByRank orders peers from the strongest contender to the weakest.
func sortByRank(peers []Peer) {
	sort.Slice(peers, func(i, j int) bool {
		return outranks(peers[i], peers[j])
	})
}

// payload encodes the record into the wire form stored in the peering
// object's status. Only JSON-compatible scalar types are used so the result
// can be embedded into unstructured content directly.
func (p Peer) payload() map[string]interface{} {
	m := map[string]interface{}{
		"priority": int64(p.Priority),
		"lastseen": p.LastSeen.UTC().Format(lastSeenLayout),
		"lifetime": int64(p.Lifetime / time.Second),
	}
	// Omitted when false: older consumers ignore unknown fields, but there
	// is no reason to grow every record by one.
	if p.Standby {
		m["standby"] = true
	}
	return m
}

// statusPayload encodes a full peer set into the wire form of the status
// field.
func statusPayload(peers map[string]Peer) map[string]interface{} {
	status := make(map[string]interface{}, len(peers))
	for id, p := range peers {
		p.Identity = id
		status[id] = p.payload()
	}
	return status
}

// parseRecord decodes one peer record from its wire form. It is tolerant of
// field variations accumulated across publisher generations: timestamps with
// or without a zone, numbers as integers or floats, and unknown extra fields.
// A record that cannot be decoded is reported as an error so that callers can
// skip it instead of crashing on garbage left by a rogue writer.
func parseRecord(identity string, raw interface{}) (Peer, error) {
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return Peer{}, fmt.Errorf("record is not an object: %T", raw)
	}

	p := Peer{
		Identity: identity,
		Priority: DefaultPriority,
		Lifetime: DefaultLifetime,
	}

	if raw, ok := fields["priority"]; ok {
		n, err := asInt(raw)
		if err != nil {
			return Peer{}, fmt.Errorf("invalid priority: %v", err)
		}
		p.Priority = n
	}

	if raw, ok := fields["lifetime"]; ok {
		n, err := asInt(raw)
		if err != nil {
			return Peer{}, fmt.Errorf("invalid lifetime: %v", err)
		}
		p.Lifetime = time.Duration(n) * time.Second
	}

	raw, ok := fields["lastseen"]
	if !ok {
		return Peer{}, fmt.Errorf("missing lastseen")
	}
	s, ok := raw.(string)
	if !ok {
		return Peer{}, fmt.Errorf("invalid lastseen: not a string: %T", raw)
	}
	t, err := parseLastSeen(s)
	if err != nil {
		return Peer{}, fmt.Errorf("invalid lastseen: %v", err)
	}
	p.LastSeen = t

	if raw, ok := fields["standby"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return Peer{}, fmt.Errorf("invalid standby: not a boolean: %T", raw)
		}
		p.Standby = b
	}

	return p, nil
}

// parseLastSeen decodes a keep-alive timestamp, accepting both zoned RFC 3339
// stamps and the zone-less UTC stamps of older publishers.
func parseLastSeen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(naiveLastSeenLayout, s)
}

// asInt coerces a decoded JSON number into an int. Unstructured content
// carries whole numbers as int64 and everything else as float64, depending on
// the decoder that produced it.
func asInt(raw interface{}) (int, error) {
	switch n := raw.(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
}

// recordsFromStatus decodes the peer set from the status field of a peering
// object. Records that cannot be decoded are skipped and counted; one broken
// record must not take the whole channel down with it.
func recordsFromStatus(ch Channel, status map[string]interface{}) map[string]Peer {
	peers := make(map[string]Peer, len(status))
	for identity, raw := range status {
		p, err := parseRecord(identity, raw)
		if err != nil {
			scope.Warnf("Ignoring malformed peer record %q on channel %v: %v", identity, ch, err)
			malformedRecords.With(channelLabel.Value(ch.String())).Increment()
			continue
		}
		peers[identity] = p
	}
	return peers
}

// clonePeers returns a shallow copy of a peer set.
func clonePeers(peers map[string]Peer) map[string]Peer {
	out := make(map[string]Peer, len(peers))
	for id, p := range peers {
		out[id] = p
	}
	return out
}
