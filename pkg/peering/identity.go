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
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"

	"istio.io/pkg/env"
)

// podIDVar overrides the detected identity wholesale. In a deployment the
// downward API typically projects the pod name into it, which makes the
// records in the peering object recognizable at a glance.
var podIDVar = env.RegisterStringVar("POD_ID", "",
	"Overrides the automatically detected peering identity of this instance.")

// DetectIdentity derives a reasonably unique identity for this operator
// instance.
//
// If the POD_ID environment variable is set, it is taken verbatim. Otherwise
// the identity is composed of the current user, the hostname, the startup
// timestamp, and a random suffix, so that restarts and multiple copies on one
// host never collide.
func DetectIdentity() string {
	if pod := podIDVar.Get(); pod != "" {
		return pod
	}
	now := time.Now().UTC().Format(lastSeenLayout)
	rnd := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return fmt.Sprintf("%s@%s/%s/%s", username(), hostname(), now, rnd)
}

// DetectManualIdentity derives the identity used for records planted by a
// human rather than by a running instance. It is stable across invocations on
// the same host, so a manual record can later be found and removed.
func DetectManualIdentity() string {
	if pod := podIDVar.Get(); pod != "" {
		return pod
	}
	return fmt.Sprintf("%s@%s", username(), hostname())
}

func username() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}
