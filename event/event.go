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

// Package event defines the notifications emitted by the settlement engine
// and a feed that fans them out to subscribers.
package event

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Type enumerates settlement events.
type Type int

const (
	TypeOpened        Type = iota // payer escrowed the initial deposit
	TypeDeposited                 // payer topped up an open channel
	TypeClosed                    // a voucher was settled
	TypeTimeoutClosed             // the payer reclaimed the deposit after the deadline
)

func (t Type) String() string {
	switch t {
	case TypeOpened:
		return "opened"
	case TypeDeposited:
		return "deposited"
	case TypeClosed:
		return "closed"
	case TypeTimeoutClosed:
		return "timeout_closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

type (
	// Event is emitted after a settlement operation committed.
	Event interface {
		AgreementID() *big.Int
		Type() Type
	}

	// Opened is emitted by Open.
	Opened struct {
		ID        *big.Int
		Payer     common.Address
		Payee     common.Address
		Deposit   *big.Int
		TimeoutAt uint64
	}

	// Deposited is emitted by DepositMore. Deposit is the new total.
	Deposited struct {
		ID      *big.Int
		Payer   common.Address
		Amount  *big.Int
		Deposit *big.Int
	}

	// Closed is emitted by a voucher close.
	Closed struct {
		ID       *big.Int
		Payer    common.Address
		Payee    common.Address
		Paid     *big.Int
		Refunded *big.Int
		Nonce    *big.Int
	}

	// TimeoutClosed is emitted by TimeoutClose.
	TimeoutClosed struct {
		ID       *big.Int
		Payer    common.Address
		Refunded *big.Int
	}
)

func (e *Opened) AgreementID() *big.Int { return e.ID }
func (e *Opened) Type() Type            { return TypeOpened }

func (e *Deposited) AgreementID() *big.Int { return e.ID }
func (e *Deposited) Type() Type            { return TypeDeposited }

func (e *Closed) AgreementID() *big.Int { return e.ID }
func (e *Closed) Type() Type            { return TypeClosed }

func (e *TimeoutClosed) AgreementID() *big.Int { return e.ID }
func (e *TimeoutClosed) Type() Type            { return TypeTimeoutClosed }

// Emitter receives committed events.
type Emitter interface {
	Emit(Event)
}

// Emitters fans an event out to several emitters in order.
type Emitters []Emitter

// Emit implements Emitter.
func (es Emitters) Emit(e Event) {
	for _, em := range es {
		em.Emit(e)
	}
}
