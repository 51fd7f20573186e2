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
	"strings"
	"time"

	apiextensionsv1beta1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1beta1"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/rest"
)

// crdEstablishTimeout bounds the wait for freshly registered definitions to
// become servable.
const crdEstablishTimeout = 60 * time.Second

// definitions returns the custom resource definitions backing the peering
// channels under the given API group and version.
func definitions(group, version string) []*apiextensionsv1beta1.CustomResourceDefinition {
	crd := func(kind, plural string, scope apiextensionsv1beta1.ResourceScope) *apiextensionsv1beta1.CustomResourceDefinition {
		return &apiextensionsv1beta1.CustomResourceDefinition{
			ObjectMeta: metav1.ObjectMeta{
				Name: plural + "." + group,
			},
			Spec: apiextensionsv1beta1.CustomResourceDefinitionSpec{
				Group:   group,
				Version: version,
				Scope:   scope,
				Names: apiextensionsv1beta1.CustomResourceDefinitionNames{
					Singular: strings.ToLower(kind),
					Plural:   plural,
					Kind:     kind,
				},
			},
		}
	}
	return []*apiextensionsv1beta1.CustomResourceDefinition{
		crd(ClusterResourceKind, ClusterResourcePlural, apiextensionsv1beta1.ClusterScoped),
		crd(NamespacedResourceKind, NamespacedResourcePlural, apiextensionsv1beta1.NamespaceScoped),
	}
}

// RegisterResources creates the peering custom resource definitions and waits
// for the API server to establish them. Definitions that already exist are
// left untouched.
func RegisterResources(config *rest.Config, opts *Options) error {
	clientset, err := apiextensionsclient.NewForConfig(config)
	if err != nil {
		return err
	}

	crds := definitions(opts.Group, opts.Version)
	for _, crd := range crds {
		scope.Infof("Registering definition %q", crd.Name)
		_, err := clientset.ApiextensionsV1beta1().CustomResourceDefinitions().Create(crd)
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return err
		}
	}

	// Freshly created definitions carry no status conditions for a moment,
	// so an absent Established condition means "keep polling", not failure.
	return wait.Poll(500*time.Millisecond, crdEstablishTimeout, func() (bool, error) {
	definitions:
		for _, crd := range crds {
			current, err := clientset.ApiextensionsV1beta1().CustomResourceDefinitions().Get(crd.Name, metav1.GetOptions{})
			if err != nil {
				return false, err
			}
			for _, cond := range current.Status.Conditions {
				switch cond.Type {
				case apiextensionsv1beta1.Established:
					if cond.Status == apiextensionsv1beta1.ConditionTrue {
						continue definitions
					}
				case apiextensionsv1beta1.NamesAccepted:
					if cond.Status == apiextensionsv1beta1.ConditionFalse {
						return false, fmt.Errorf("name conflict for %q: %v", crd.Name, cond.Reason)
					}
				}
			}
			return false, nil
		}
		return true, nil
	})
}
