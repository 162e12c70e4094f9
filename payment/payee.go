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

package payment

import (
	"context"
	"math/big"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	"polycry.pt/poly-go/sync"

	"perun.network/perun-rentchannel-backend/channel"
	"perun.network/perun-rentchannel-backend/wallet"
	"perun.network/perun-rentchannel-backend/wire"
)

// Settler submits vouchers for settlement.
type Settler interface {
	Close(ctx context.Context, v wire.Voucher, sig []byte) (channel.Payout, error)
}

// Payee collects vouchers of one channel and settles the best.
type Payee struct {
	log.Embedding

	mu       sync.Mutex
	clock    clock.Clock
	verifier wallet.Verifier
	domain   wire.Domain
	id       *big.Int
	payer    common.Address
	payee    common.Address
	deposit  *big.Int
	best     *wire.SignedVoucher
}

// PayeeOption configures a Payee.
type PayeeOption func(*Payee)

// WithPayeeClock sets the time source used to reject expired vouchers.
func WithPayeeClock(c clock.Clock) PayeeOption {
	return func(p *Payee) { p.clock = c }
}

// NewPayee starts a payee session for addr on the open channel id.
func NewPayee(ctx context.Context, r ChannelReader, addr common.Address, d wire.Domain, id *big.Int, verifier wallet.Verifier, opts ...PayeeOption) (*Payee, error) {
	ch, err := r.Channel(ctx, id)
	if err != nil {
		return nil, errors.WithMessage(err, "reading channel")
	}
	if !ch.Open {
		return nil, errors.WithMessagef(ErrChannelNotOpen, "agreement %s", id)
	}
	if ch.Payee != addr {
		return nil, errors.WithMessagef(ErrNotParty, "%s is not paid by agreement %s", addr.Hex(), id)
	}
	p := &Payee{
		Embedding: log.MakeEmbedding(log.Default()),
		clock:     clock.New(),
		verifier:  verifier,
		domain:    d,
		id:        new(big.Int).Set(id),
		payer:     ch.Payer,
		payee:     ch.Payee,
		deposit:   new(big.Int).Set(ch.Deposit),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Refresh reloads the deposit, e.g. after the payer topped up the channel.
func (p *Payee) Refresh(ctx context.Context, r ChannelReader) error {
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

// Accept verifies sv and keeps it if it authorizes more than the best
// voucher so far. Vouchers that already expired are rejected, they could not
// be settled anymore.
func (p *Payee) Accept(sv wire.SignedVoucher) error {
	v := sv.Voucher
	if err := v.Validate(); err != nil {
		return err
	}
	if v.AgreementID.Cmp(p.id) != 0 || v.Payer != p.payer || v.Payee != p.payee {
		return ErrWrongChannel
	}
	if channel.Expired(p.clock.Now(), v.Expiry) {
		return errors.WithMessagef(channel.ErrExpired, "expiry %s", v.Expiry)
	}
	if deposit := p.Deposit(); v.Amount.Cmp(deposit) > 0 {
		return errors.WithMessagef(ErrExceedsDeposit, "%s > %s", v.Amount, deposit)
	}
	if !wallet.VerifyVoucher(p.verifier, v, p.domain, sv.Signature, p.payer) {
		return channel.ErrBadSignature
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.best != nil && (v.Amount.Cmp(p.best.Amount) <= 0 || v.Nonce.Cmp(p.best.Nonce) <= 0) {
		return errors.WithMessagef(ErrNotImproving, "amount %s, best %s", v.Amount, p.best.Amount)
	}
	best := wire.SignedVoucher{Voucher: v.Clone(), Signature: append([]byte(nil), sv.Signature...)}
	p.best = &best
	p.Log().WithField("agreement", p.id).WithField("amount", v.Amount).Debug("accepted voucher")
	return nil
}

// Deposit returns the deposit the session checks vouchers against.
func (p *Payee) Deposit() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.deposit)
}

// Best returns the best voucher accepted so far.
func (p *Payee) Best() (wire.SignedVoucher, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.best == nil {
		return wire.SignedVoucher{}, false
	}
	return *p.best, true
}

// Settle closes the channel with the best voucher.
func (p *Payee) Settle(ctx context.Context, s Settler) (channel.Payout, error) {
	best, ok := p.Best()
	if !ok {
		return channel.Payout{}, ErrNothingToSettle
	}
	payout, err := s.Close(ctx, best.Voucher, best.Signature)
	if err != nil {
		return channel.Payout{}, errors.WithMessage(err, "settling best voucher")
	}
	return payout, nil
}
