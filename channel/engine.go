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
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"perun.network/go-perun/log"

	"perun.network/perun-rentchannel-backend/event"
	"perun.network/perun-rentchannel-backend/ledger"
	"perun.network/perun-rentchannel-backend/metrics"
	"perun.network/perun-rentchannel-backend/registry"
	"perun.network/perun-rentchannel-backend/wallet"
	"perun.network/perun-rentchannel-backend/wire"
)

// Operation names used in logs and metrics.
const (
	OpOpen         = "open"
	OpDepositMore  = "deposit_more"
	OpClose        = "close"
	OpTimeoutClose = "timeout_close"
)

// Call carries the caller of a funding operation and the value it attaches.
type Call struct {
	From  common.Address
	Value *big.Int
}

// ChannelInfo is the read view of a channel.
type ChannelInfo = wire.Channel

// Payout is the fund split of a settled channel.
type Payout struct {
	Paid     *big.Int
	Refunded *big.Int
}

// Engine executes settlement operations against a ledger. All operations are
// atomic: a rejected precondition leaves the ledger untouched and moves no
// funds.
type Engine struct {
	log.Embedding

	ledger   *ledger.Ledger
	registry registry.Registry
	domain   wire.Domain
	verifier wallet.Verifier
	clock    clock.Clock
	emitter  event.Emitter
	metrics  metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithVerifier sets the signature verifier.
func WithVerifier(v wallet.Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithEmitter sets the receiver of committed events.
func WithEmitter(em event.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithMetrics sets the telemetry recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine returns an engine settling vouchers of the given domain. The
// domain's verifying contract is the escrow account holding deposits.
func NewEngine(l *ledger.Ledger, reg registry.Registry, domain wire.Domain, opts ...Option) *Engine {
	e := &Engine{
		Embedding: log.MakeEmbedding(log.Default()),
		ledger:    l,
		registry:  reg,
		domain:    domain,
		verifier:  wallet.ECDSAVerifier{},
		clock:     clock.New(),
		emitter:   event.Emitters{},
		metrics:   metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Domain returns the signing domain of accepted vouchers.
func (e *Engine) Domain() wire.Domain {
	return e.domain
}

// Escrow returns the account holding open deposits.
func (e *Engine) Escrow() common.Address {
	return e.domain.VerifyingContract
}

// Channel returns the channel of an agreement. Never opened agreements yield
// the zero record.
func (e *Engine) Channel(ctx context.Context, id *big.Int) (ChannelInfo, error) {
	var ch wire.Channel
	err := e.ledger.View(ctx, func(tx *ledger.Tx) (err error) {
		ch, err = tx.Channel(id)
		return err
	})
	return ch, err
}

// LastNonce returns the highest settled nonce of payer for the agreement.
func (e *Engine) LastNonce(ctx context.Context, payer common.Address, id *big.Int) (*big.Int, error) {
	var n *big.Int
	err := e.ledger.View(ctx, func(tx *ledger.Tx) (err error) {
		n, err = tx.LastNonce(payer, id)
		return err
	})
	return n, err
}

// Balance returns the custody balance of addr.
func (e *Engine) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var b *big.Int
	err := e.ledger.View(ctx, func(tx *ledger.Tx) (err error) {
		b, err = tx.Balance(addr)
		return err
	})
	return b, err
}

// Credit adds amount to the custody balance of addr.
func (e *Engine) Credit(ctx context.Context, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroFunding
	}
	if err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		return tx.Credit(addr, amount)
	}); err != nil {
		return err
	}
	e.Log().WithField("account", addr.Hex()).WithField("amount", amount).Debug("credited account")
	return nil
}

// OpenChannels counts the currently open channels.
func (e *Engine) OpenChannels(ctx context.Context) (int, error) {
	entries, err := e.ledger.Channels(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.Channel.Open {
			n++
		}
	}
	return n, nil
}

func (e *Engine) observe(op string, start time.Time, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = KindOf(err).String()
	}
	e.metrics.RecordOperation(op, result, e.clock.Since(start))
}

func checkAgreementID(id *big.Int) error {
	if id == nil || id.Sign() < 0 || id.BitLen() > 256 { //nolint:gomnd
		return ErrInvalidAgreement
	}
	return nil
}
