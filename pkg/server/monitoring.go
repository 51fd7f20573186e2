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

package server

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	ocprom "contrib.go.opencensus.io/exporter/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats/view"

	"istio.io/pkg/log"
	"istio.io/pkg/probe"
	"istio.io/pkg/version"
)

type monitor struct {
	monitoringServer *http.Server
	// This channel is closed after the server stops serving requests.
	closed chan struct{}
}

const (
	metricsPath = "/metrics"
	versionPath = "/version"
)

func startMonitor(port uint) (*monitor, error) {
	m := &monitor{
		closed: make(chan struct{}),
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("unable to listen on socket: %v", err)
	}

	mux := http.NewServeMux()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(os.Getpid(), ""))
	registry.MustRegister(prometheus.NewGoCollector())

	exporter, err := ocprom.NewExporter(ocprom.Options{Registry: registry})
	if err != nil {
		return nil, fmt.Errorf("could not set up prometheus exporter: %v", err)
	}
	view.RegisterExporter(exporter)
	mux.Handle(metricsPath, exporter)

	mux.HandleFunc(versionPath, func(out http.ResponseWriter, req *http.Request) {
		if _, err := out.Write([]byte(version.Info.String())); err != nil {
			log.Errorf("Unable to write version string: %v", err)
		}
	})

	m.monitoringServer = &http.Server{
		Handler: mux,
	}

	go func() {
		_ = m.monitoringServer.Serve(listener)
		close(m.closed)
	}()

	return m, nil
}

func (m *monitor) Close() error {
	var err error

	// This works around a race condition between Serve() and Close() functions.
	// If Close() is called before Serve(), Serve() never returns.
	// m.closed channel is used by Serve() to indicate that it has processed the
	// Close signal and exited the function. Until then, Close() periodically
	// re-issues monitoringServer.Close().

L:
	for {
		err = m.monitoringServer.Close()
		select {
		case <-m.closed:
			break L
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}
	return err
}

// StartSelfMonitoring exposes the agent's own metrics and version info over
// HTTP until stop is closed.
func StartSelfMonitoring(stop <-chan struct{}, port uint) {
	m, err := startMonitor(port)
	if err != nil {
		log.Errorf("Unable to start self-monitoring: %v", err)
		return
	}
	log.Infof("Self-monitoring on port %d", port)

	<-stop
	if err := m.Close(); err != nil {
		log.Debugf("Self-monitoring server terminated: %v", err)
	}
}

// StartProfiling serves the pprof endpoints until stop is closed.
func StartProfiling(stop <-chan struct{}, port uint) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Errorf("Profiling terminated: %v", err)
		}
	}()

	<-stop
	if err := server.Close(); err != nil {
		log.Debugf("Profiling server terminated: %v", err)
	}
}

// StartProbeCheck runs the probe file controllers until stop is closed.
func StartProbeCheck(livenessProbeController, readinessProbeController probe.Controller, stop <-chan struct{}) {
	if livenessProbeController != nil {
		livenessProbeController.Start()
		defer livenessProbeController.Close()
	}
	if readinessProbeController != nil {
		readinessProbeController.Start()
		defer readinessProbeController.Close()
	}
	<-stop
}
