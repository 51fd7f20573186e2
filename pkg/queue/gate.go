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

package queue

import (
	"sync"
)

// Gate is a reopenable barrier for task execution. The peering side flips it:
// open while this instance holds its channel, shut while a rival does.
type Gate struct {
	mu     sync.Mutex
	open   bool
	opened chan struct{} // closed while the gate is open
}

// NewGate returns a gate in the given initial position.
func NewGate(open bool) *Gate {
	g := &Gate{open: open, opened: make(chan struct{})}
	if open {
		close(g.opened)
	}
	return g
}

// Set moves the gate. Opening releases all current waiters; shutting only
// affects waits that start afterwards.
func (g *Gate) Set(open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open == open {
		return
	}
	g.open = open
	if open {
		close(g.opened)
	} else {
		g.opened = make(chan struct{})
	}
}

// IsOpen reports the current position.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait blocks until the gate is open or stop is closed. It reports whether
// the gate is open; false means the wait was abandoned for shutdown.
func (g *Gate) Wait(stop <-chan struct{}) bool {
	for {
		g.mu.Lock()
		open, opened := g.open, g.opened
		g.mu.Unlock()
		if open {
			return true
		}
		select {
		case <-opened:
		case <-stop:
			return false
		}
	}
}
