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

// Package payment implements the off-chain side of a rent channel: the payer
// signs growing cumulative vouchers and the payee keeps the best one until it
// settles.
package payment

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	"perun.network/go-perun/wallet"
	"polycry.pt/poly-go/sync"

	"perun.network/perun-rentchannel-backend/channel"
	"perun.network/perun-rentchannel-backend/wallet/types"
	"perun.network/perun-rentchannel-backend/wire"
)

var (
	ErrChannelNotOpen  = errors.New("channel is not open")
	ErrNotParty        = errors.New("account is not a party of the channel")
	ErrExceedsDeposit  = errors.New("payment exceeds deposit")
	ErrNonPositive     = errors.New("payment must be positive")
	ErrWrongChannel    = errors.New("voucher belongs to another channel")
	ErrNotImproving    = errors.New("voucher does not improve on the best voucher")
	ErrNothingToSettle = errors.New("no voucher to settle")
)

// ChannelReader is the read side of the settlement engine.
type ChannelReader interface {
	Channel(ctx context.Context, id *big.Int) (channel.ChannelInfo, error)
	LastNonce(ctx context.Context, payer common.Address, id *big.Int) (*big.Int, error)
}

// Payer authorizes payments on an open channel.
type Payer struct {
	log.Embedding

	mu      sync.Mutex
	account wallet.Account
	payer   common.Address
	domain  wire.Domain
	id      *big.Int
	payee   common.Address
	deposit *big.Int
	paid    *big.Int
	nonce   *big.Int
}

// NewPayer starts a payer session on the open channel id, continuing after
// the last settled nonce. acc is typically unlocked from a wallet and signs
// the EIP-712 bytes of each voucher.
func NewPayer(ctx context.Context, r ChannelReader, acc wallet.Account, d wire.Domain, id *big.Int) (*Payer, error) {
	payer, err := types.ToEthAddr(acc.Address())
	if err != nil {
		return nil, err
	}
	ch, err := r.Channel(ctx, id)
	if err != nil {
		return nil, errors.WithMessage(err, "reading channel")
	}
	if !ch.Open {
		return nil, errors.WithMessagef(ErrChannelNotOpen, "agreement %s", id)
	}
	if ch.Payer != payer {
		return nil, errors.WithMessagef(ErrNotParty, "%s does not pay agreement %s", payer.Hex(), id)
	}
	last, err := r.LastNonce(ctx, ch.Payer, id)
	if err != nil {
		return nil, errors.WithMessage(err, "reading nonce")
	}
	return &Payer{
		Embedding: log.MakeEmbedding(log.Default()),
		account:   acc,
		payer:     payer,
		domain:    d,
		id:        new(big.Int).Set(id),
		payee:     ch.Payee,
		deposit:   new(big.Int).Set(ch.Deposit),
		paid:      new(big.Int),
		nonce:     new(big.Int).Set(last),
	}, nil
}

// Pay authorizes delta on top of everything paid so far and returns the
// signed cumulative voucher valid until expiry (unix seconds).
func (p *Payer) Pay(delta *big.Int, expiry uint64) (wire.SignedVoucher, error) {
	if delta == nil || delta.Sign() <= 0 {
		return wire.SignedVoucher{}, ErrNonPositive
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	total := new(big.Int).Add(p.paid, delta)
	if total.Cmp(p.deposit) > 0 {
		return wire.SignedVoucher{}, errors.WithMessagef(ErrExceedsDeposit, "%s > %s", total, p.deposit)
	}
	v := wire.Voucher{
		Payer:       p.payer,
		Payee:       p.payee,
		AgreementID: new(big.Int).Set(p.id),
		Amount:      total,
		Nonce:       new(big.Int).Add(p.nonce, big.NewInt(1)),
		Expiry:      new(big.Int).SetUint64(expiry),
	}
	msg, err := v.SigningBytes(p.domain)
	if err != nil {
		return wire.SignedVoucher{}, err
	}
	sig, err := p.account.SignData(msg)
	if err != nil {
		return wire.SignedVoucher{}, errors.WithMessage(err, "signing voucher")
	}
	p.paid = total
	p.nonce = v.Nonce
	p.Log().WithField("agreement", p.id).WithField("amount", total).Debug("signed voucher")
	return wire.SignedVoucher{Voucher: v, Signature: sig}, nil
}

// Refresh reloads the deposit, e.g. after a top-up.
func (p *Payer) Refresh(ctx context.Context, r ChannelReader) error {
	ch, err := r.Channel(ctx, p.id)
	if err != nil {
		return err
	}
	if !ch.Open {
		return errors.WithMessagef(ErrChannelNotOpen, "agreement %s", p.id)
	}
	p.mu.Lock()
	p.deposit = new(big.Int).Set(ch.Deposit)
	p.mu.Unlock()
	return nil
}

// Paid returns the cumulative amount authorized so far.
func (p *Payer) Paid() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.paid)
}

// Remaining returns the part of the deposit not yet authorized.
func (p *Payer) Remaining() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Sub(p.deposit, p.paid)
}
