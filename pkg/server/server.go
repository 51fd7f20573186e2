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

// Package server hosts a peering controller as a standalone agent process,
// wiring it to a Kubernetes cluster together with the self-monitoring,
// probe and introspection facilities expected of a long-running pod.
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/client-go/dynamic"

	"istio.io/pkg/ctrlz"
	"istio.io/pkg/log"
	"istio.io/pkg/probe"

	"github.com/opeering/peering/pkg/kube"
	"github.com/opeering/peering/pkg/peering"
	"github.com/opeering/peering/pkg/queue"
)

const (
	// DefaultProbeCheckInterval is the default interval for probe file refreshes.
	DefaultProbeCheckInterval = 2 * time.Second

	// DefaultLivenessProbeFilePath is the default path for the liveness probe file.
	DefaultLivenessProbeFilePath = "/healthLiveness"

	// DefaultReadinessProbeFilePath is the default path for the readiness probe file.
	DefaultReadinessProbeFilePath = "/healthReadiness"
)

// queueRetryDelay is how long a failed reconcile task waits before re-running.
const queueRetryDelay = time.Second

// Server is the main entry point into the peering agent code.
type Server struct {
	args       *Args
	controller *peering.Controller
	gate       *queue.Gate
	queue      queue.Instance

	stopCh    chan struct{}
	closeOnce sync.Once
	shutdown  chan error
	controlZ  *ctrlz.Server
}

// New returns a new instance of a Server.
func New(a *Args) (*Server, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	var dyn dynamic.Interface
	if !a.Peering.Standalone {
		var err error
		if dyn, err = kube.DynamicClient(a.KubeConfig, a.Peering.RequestTimeout); err != nil {
			return nil, errors.Wrap(err, "failed connecting to the cluster")
		}
	}
	return newServer(a, dyn)
}

func newServer(a *Args, dyn dynamic.Interface) (*Server, error) {
	ctl, err := peering.NewController(dyn, a.Peering)
	if err != nil {
		return nil, err
	}

	s := &Server{
		args:       a,
		controller: ctl,
		gate:       queue.NewGate(false),
		stopCh:     make(chan struct{}),
	}
	s.queue = queue.NewGatedQueue(queueRetryDelay, s.gate)

	// Reconciliation only runs while this instance holds the channel. The
	// gate opens on promotion and shuts again when a stronger peer appears.
	ctl.AddTransitionHandler(func(_, to peering.Mode) {
		s.gate.Set(to == peering.ModeActive)
	})

	if a.IntrospectionOptions != nil {
		if s.controlZ, err = ctrlz.Run(a.IntrospectionOptions, nil); err != nil {
			return nil, errors.Wrap(err, "unable to start introspection")
		}
	}

	return s, nil
}

// Run starts the peering controller and its supporting loops.
func (s *Server) Run() {
	s.shutdown = make(chan error, 1)
	go func() {
		s.shutdown <- s.controller.Run(s.stopCh)
	}()
	go s.queue.Run(s.stopCh)
	if s.args.ReportInterval > 0 {
		go s.report()
	}
}

// Wait waits for the server to exit. It returns the error the controller
// terminated with, or nil after a clean shutdown.
func (s *Server) Wait() error {
	if s.shutdown == nil {
		return fmt.Errorf("server not running")
	}
	err := <-s.shutdown
	s.shutdown = nil
	return err
}

// Close cleans up resources used by the server. The controller retracts its
// presence record before its goroutine exits; callers that need to block
// until then should Wait after Close.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		if s.controlZ != nil {
			s.controlZ.Close()
		}
	})
	return nil
}

// Controller returns the coexistence controller hosted by this server.
func (s *Server) Controller() *peering.Controller {
	return s.controller
}

// Queue returns a work queue whose tasks only execute while this instance
// holds the active role on its channel. Tasks pushed while frozen are held
// until the channel is reclaimed.
func (s *Server) Queue() queue.Instance {
	return s.queue
}

// report periodically logs a membership summary for the channel.
func (s *Server) report() {
	t := time.NewTicker(s.args.ReportInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if !s.controller.HasSynced() {
				continue
			}
			peers := s.controller.AlivePeers()
			descs := make([]string, 0, len(peers))
			for _, p := range peers {
				descs = append(descs, p.String())
			}
			log.Infof("%v: mode=%v live peers: [%s]",
				s.controller, s.controller.Mode(), strings.Join(descs, ", "))
		case <-s.stopCh:
			return
		}
	}
}

// RunServer starts the peering agent and blocks until stop is closed or the
// controller fails. On a clean stop the presence record has been retracted
// by the time RunServer returns.
func RunServer(sa *Args, stop <-chan struct{}, livenessProbeController, readinessProbeController probe.Controller) {
	log.Infof("Peering agent started with\n%s", sa)
	s, err := New(sa)
	if err != nil {
		log.Fatalf("Error creating server: %v", err)
	}
	s.Run()

	if livenessProbeController != nil {
		serverLivenessProbe := probe.NewProbe()
		serverLivenessProbe.SetAvailable(nil)
		serverLivenessProbe.RegisterProbe(livenessProbeController, "server")
		defer serverLivenessProbe.SetAvailable(errors.New("stopped"))
	}
	if readinessProbeController != nil {
		s.controller.RegisterProbe(readinessProbeController, "peering")
	}

	go func() {
		<-stop
		_ = s.Close()
	}()

	if err := s.Wait(); err != nil {
		log.Fatalf("Peering agent unexpectedly terminated: %v", err)
	}
	_ = s.Close()
}
