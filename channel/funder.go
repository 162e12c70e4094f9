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

package channel

import (
	"context"
	"math/big"

	"github.com/pkg/errors"

	"perun.network/perun-rentchannel-backend/event"
	"perun.network/perun-rentchannel-backend/ledger"
	"perun.network/perun-rentchannel-backend/wire"
)

// Open escrows call.Value from the payer of the agreement and opens its
// channel. The channel may be closed by timeout timeoutSec seconds from now.
func (e *Engine) Open(ctx context.Context, call Call, id *big.Int, timeoutSec uint64) (err error) {
	start := e.clock.Now()
	defer func() { e.observe(OpOpen, start, err) }()

	if err := checkAgreementID(id); err != nil {
		return err
	}
	agreement, err := e.registry.Resolve(ctx, id)
	if err != nil {
		return errors.WithMessagef(err, "resolving agreement %s", id)
	}

	var opened wire.Channel
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		ch, err := tx.Channel(id)
		if err != nil {
			return err
		}
		if ch.Open {
			return errors.WithMessagef(ErrAlreadyOpen, "agreement %s", id)
		}
		if call.Value == nil || call.Value.Sign() <= 0 {
			return ErrZeroFunding
		}
		if call.From != agreement.Payer {
			return errors.WithMessagef(ErrNotPayer, "%s is not payer of agreement %s", call.From.Hex(), id)
		}
		timeoutAt, err := Deadline(e.clock.Now(), timeoutSec)
		if err != nil {
			return err
		}
		if err := tx.Transfer(call.From, e.Escrow(), call.Value); err != nil {
			return err
		}

		ch.Payer = agreement.Payer
		ch.Payee = agreement.Payee
		ch.Deposit = new(big.Int).Set(call.Value)
		ch.TimeoutAt = timeoutAt
		ch.Open = true
		opened = ch
		return tx.PutChannel(id, ch)
	})
	if err != nil {
		return err
	}

	e.Log().WithField("agreement", id).WithField("deposit", opened.Deposit).Info("opened channel")
	e.metrics.RecordOpenChannels(1)
	e.emitter.Emit(&event.Opened{
		ID:        new(big.Int).Set(id),
		Payer:     opened.Payer,
		Payee:     opened.Payee,
		Deposit:   new(big.Int).Set(opened.Deposit),
		TimeoutAt: opened.TimeoutAt,
	})
	return nil
}

// DepositMore adds call.Value to the deposit of an open channel. The timeout
// is not extended.
func (e *Engine) DepositMore(ctx context.Context, call Call, id *big.Int) (err error) {
	start := e.clock.Now()
	defer func() { e.observe(OpDepositMore, start, err) }()

	if err := checkAgreementID(id); err != nil {
		return err
	}
	var deposit *big.Int
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		ch, err := tx.Channel(id)
		if err != nil {
			return err
		}
		if !ch.Open {
			return errors.WithMessagef(ErrNotOpen, "agreement %s", id)
		}
		if call.From != ch.Payer {
			return errors.WithMessagef(ErrNotPayer, "%s is not payer of agreement %s", call.From.Hex(), id)
		}
		if call.Value == nil || call.Value.Sign() <= 0 {
			return ErrZeroFunding
		}
		if err := tx.Transfer(call.From, e.Escrow(), call.Value); err != nil {
			return err
		}
		ch.Deposit = new(big.Int).Add(ch.Deposit, call.Value)
		deposit = ch.Deposit
		return tx.PutChannel(id, ch)
	})
	if err != nil {
		return err
	}

	e.Log().WithField("agreement", id).WithField("deposit", deposit).Info("topped up channel")
	e.emitter.Emit(&event.Deposited{
		ID:      new(big.Int).Set(id),
		Payer:   call.From,
		Amount:  new(big.Int).Set(call.Value),
		Deposit: new(big.Int).Set(deposit),
	})
	return nil
}
