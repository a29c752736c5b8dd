// Copyright 2024 Google LLC
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

package xff

type (
	// TransactionSource exposes the HTTP transactions of a flow.
	// Header names are matched case-insensitively; the first value found wins.
	// Implementations must tolerate nil receivers, reporting zero transactions.
	TransactionSource interface {
		TxCount() uint64
		RequestHeader(txID uint64, name string) ([]byte, bool)
	}

	// Selector picks which transactions are inspected: one by id, or all of them.
	Selector struct {
		txID    uint64
		scanAll bool
	}
)

// ScanAll inspects every transaction in order and keeps the first valid address.
var ScanAll = Selector{scanAll: true}

// ByTx inspects only the transaction with the given id.
func ByTx(txID uint64) Selector {
	return Selector{txID: txID}
}

func (s Selector) IsScanAll() bool {
	return s.scanAll
}

func (s Selector) TxID() (uint64, bool) {
	return s.txID, !s.scanAll
}

func resolveTx(state TransactionSource, txID uint64, header string) (string, bool) {
	value, ok := state.RequestHeader(txID, header)
	if !ok {
		return "", false
	}
	return ParseLastAddress(value)
}

// Resolve looks up header in the transactions picked by sel.
// Missing state, an unknown transaction, a missing header or an invalid chain
// all mean that there is no address; none of them is an error.
func Resolve(state TransactionSource, header string, sel Selector) (string, bool) {
	if state == nil {
		return "", false
	}

	count := state.TxCount()

	if txID, ok := sel.TxID(); ok {
		if txID >= count {
			return "", false
		}
		return resolveTx(state, txID, header)
	}

	for txID := uint64(0); txID < count; txID++ {
		if address, ok := resolveTx(state, txID, header); ok {
			return address, true
		}
	}

	return "", false
}
