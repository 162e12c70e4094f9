// Copyright 2025 PolyCrypt GmbH
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

// Package registry resolves rental agreements to the parties allowed to open
// a payment channel for them.
package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrNotFound is returned for agreement ids the registry does not know.
var ErrNotFound = errors.New("agreement not found")

// Registry is the read-only view on agreement terms consulted at open time.
type Registry interface {
	Resolve(ctx context.Context, id *big.Int) (Agreement, error)
}

// Agreement holds the terms of a rental agreement. The tenant pays, the
// landlord is paid.
type Agreement struct {
	ID            *big.Int
	Payer         common.Address
	Payee         common.Address
	Start         uint64
	End           uint64
	RentPerPeriod *big.Int
	TermsHash     common.Hash
}

// Active reports whether t (unix seconds) lies within [Start, End).
func (a Agreement) Active(t uint64) bool {
	return a.Start <= t && t < a.End
}

func (a Agreement) valid() bool {
	return a.Payer != (common.Address{}) && a.Payee != (common.Address{})
}
