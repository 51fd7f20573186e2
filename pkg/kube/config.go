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

// Package kube builds the Kubernetes client plumbing shared by the agent and
// the command line tools.
package kube

import (
	"time"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// BuildClientConfig is a helper function that builds client config from a
// kubeconfig filepath.
//
// This is a modified version of k8s.io/client-go/tools/clientcmd/BuildConfigFromFlags
// with the difference that it loads default configs if not running in-cluster
// and no explicit path is given.
func BuildClientConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		// Try using the inClusterConfig
		config, err := rest.InClusterConfig()
		if err == nil {
			return config, nil
		}
	}

	// Config loading rules:
	// 1. kubeconfig if it not empty string
	// 2. Config(s) in KUBECONFIG environment variable
	// 3. Use $HOME/.kube/config
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	loadingRules.ExplicitPath = kubeconfig
	configOverrides := &clientcmd.ConfigOverrides{}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides).ClientConfig()
}

// DynamicClient returns a dynamic client for the peering objects, with every
// request bounded by the given timeout.
func DynamicClient(kubeconfig string, requestTimeout time.Duration) (dynamic.Interface, error) {
	config, err := BuildClientConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	config.Timeout = requestTimeout
	return dynamic.NewForConfig(config)
}
