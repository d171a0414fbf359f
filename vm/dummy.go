/*
Copyright 2017 Mosaic Networks Ltd

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

// Package vm provides DummyVM, a consensus.VM stand-in for running and
// exercising a peer without an embedder-supplied execution engine.
// Grounded on src/dummy's "write each transaction, derive a running
// hash" state machine: the core's VM interface is deliberately an
// external boundary (spec.md section 6), so this is embedder-side
// example tooling, not part of the protocol.
package vm

import (
	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/consensus"
	"github.com/mosaicnetworks/consilium/pki"
)

// DummyVM executes every transaction by appending its form, verbatim,
// to a running log keyed by sequence number under State.Data, and
// returns the form itself as the Result — useful for smoke-testing a
// peer's consensus pipeline without a real application behind it.
type DummyVM struct{}

// Execute appends form to state's log and echoes it back as the
// Result, per dummy's "write the transaction, report success" pattern.
func (DummyVM) Execute(form cell.Cell, _ pki.AccountKey, state *consensus.State) (*consensus.State, consensus.Result) {
	data, err := state.Data(nil)
	if err != nil {
		return state, consensus.Result{Err: err}
	}
	seq := cell.NewLong(int64(data.Count()))
	next := data.Assoc(cell.RefOf(seq), cell.RefOf(form))

	peers, err := state.Peers(nil)
	if err != nil {
		return state, consensus.Result{Err: err}
	}
	return consensus.NewState(peers, next), consensus.Result{Value: form}
}
