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
	"perun.network/perun-rentchannel-backend/wallet"
	"perun.network/perun-rentchannel-backend/wire"
)

// Close settles a channel with a voucher signed by its payer. The payee
// receives v.Amount, the payer the rest of the deposit. Anybody may submit.
func (e *Engine) Close(ctx context.Context, v wire.Voucher, sig []byte) (payout Payout, err error) {
	start := e.clock.Now()
	defer func() { e.observe(OpClose, start, err) }()

	if err := v.Validate(); err != nil {
		return Payout{}, errors.WithMessage(ErrMalformedVoucher, err.Error())
	}
	id := v.AgreementID

	var closed wire.Channel
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		ch, err := tx.Channel(id)
		if err != nil {
			return err
		}
		if !ch.Open {
			return errors.WithMessagef(ErrNotOpen, "agreement %s", id)
		}
		if v.Payer != ch.Payer || v.Payee != ch.Payee {
			return errors.WithMessagef(ErrPartyMismatch, "agreement %s", id)
		}
		if Expired(e.clock.Now(), v.Expiry) {
			return errors.WithMessagef(ErrExpired, "expiry %s", v.Expiry)
		}
		last, err := tx.LastNonce(ch.Payer, id)
		if err != nil {
			return err
		}
		if v.Nonce.Cmp(last) <= 0 {
			return errors.WithMessagef(ErrReplayedNonce, "nonce %s, last %s", v.Nonce, last)
		}
		if v.Amount.Cmp(ch.Deposit) > 0 {
			return errors.WithMessagef(ErrOverdraft, "amount %s, deposit %s", v.Amount, ch.Deposit)
		}
		if !wallet.VerifyVoucher(e.verifier, v, e.domain, sig, ch.Payer) {
			return ErrBadSignature
		}

		payout = Payout{
			Paid:     new(big.Int).Set(v.Amount),
			Refunded: new(big.Int).Sub(ch.Deposit, v.Amount),
		}
		if err := tx.Transfer(e.Escrow(), ch.Payee, payout.Paid); err != nil {
			return err
		}
		if err := tx.Transfer(e.Escrow(), ch.Payer, payout.Refunded); err != nil {
			return err
		}
		if err := tx.SetLastNonce(ch.Payer, id, v.Nonce); err != nil {
			return err
		}
		ch.Claimed = new(big.Int).Set(v.Amount)
		ch.Nonce = new(big.Int).Set(v.Nonce)
		ch.Deposit = new(big.Int)
		ch.Open = false
		closed = ch
		return tx.PutChannel(id, ch)
	})
	if err != nil {
		return Payout{}, err
	}

	e.Log().WithField("agreement", id).
		WithField("paid", payout.Paid).
		WithField("refunded", payout.Refunded).
		Info("closed channel")
	e.metrics.RecordOpenChannels(-1)
	e.metrics.RecordPayout(payout.Paid)
	e.emitter.Emit(&event.Closed{
		ID:       new(big.Int).Set(id),
		Payer:    closed.Payer,
		Payee:    closed.Payee,
		Paid:     new(big.Int).Set(payout.Paid),
		Refunded: new(big.Int).Set(payout.Refunded),
		Nonce:    new(big.Int).Set(closed.Nonce),
	})
	return payout, nil
}

// TimeoutClose refunds the whole deposit to the payer once the channel's
// timeout has been reached. Anybody may call it.
func (e *Engine) TimeoutClose(ctx context.Context, id *big.Int) (refunded *big.Int, err error) {
	start := e.clock.Now()
	defer func() { e.observe(OpTimeoutClose, start, err) }()

	if err := checkAgreementID(id); err != nil {
		return nil, err
	}
	var closed wire.Channel
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		ch, err := tx.Channel(id)
		if err != nil {
			return err
		}
		if !ch.Open {
			return errors.WithMessagef(ErrNotOpen, "agreement %s", id)
		}
		if !timedOut(e.clock.Now(), ch.TimeoutAt) {
			return errors.WithMessagef(ErrTooEarly, "timeout at %d", ch.TimeoutAt)
		}
		refunded = new(big.Int).Set(ch.Deposit)
		if err := tx.Transfer(e.Escrow(), ch.Payer, refunded); err != nil {
			return err
		}
		ch.Deposit = new(big.Int)
		ch.Open = false
		closed = ch
		return tx.PutChannel(id, ch)
	})
	if err != nil {
		return nil, err
	}

	e.Log().WithField("agreement", id).WithField("refunded", refunded).Info("closed channel after timeout")
	e.metrics.RecordOpenChannels(-1)
	e.emitter.Emit(&event.TimeoutClosed{
		ID:       new(big.Int).Set(id),
		Payer:    closed.Payer,
		Refunded: new(big.Int).Set(refunded),
	})
	return new(big.Int).Set(refunded), nil
}
