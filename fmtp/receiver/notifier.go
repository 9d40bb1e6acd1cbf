/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package receiver

// ProductNotifier is the application's hook into finished products.
// Like the sender's ProductNotifier, the callback itself is an
// out-of-scope collaborator; the single-notification call sites are
// in scope.
type ProductNotifier interface {
	// OnProductComplete fires once, with the fully assembled bytes and
	// BOP metadata, when every byte of a product has arrived.
	OnProductComplete(prodIndex uint32, data, metadata []byte)
	// OnProductAbandoned fires once when a product can no longer be
	// recovered, e.g. the sender replied RETX_REJ because it has
	// already evicted the product.
	OnProductAbandoned(prodIndex uint32)
}

type noopNotifier struct{}

func (noopNotifier) OnProductComplete(uint32, []byte, []byte) {}
func (noopNotifier) OnProductAbandoned(uint32)                {}
