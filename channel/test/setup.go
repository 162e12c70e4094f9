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

// Package test provides a settlement engine wired to in-memory collaborators
// for tests.
package test

import (
	"context"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-rentchannel-backend/channel"
	"perun.network/perun-rentchannel-backend/event"
	"perun.network/perun-rentchannel-backend/ledger"
	"perun.network/perun-rentchannel-backend/registry"
	"perun.network/perun-rentchannel-backend/wallet"
	"perun.network/perun-rentchannel-backend/wire"
)

const (
	DefaultTestTimeout = 10 * time.Second
	// ChainID of the test domain.
	ChainID = 31337
	// Genesis is the unix time the mock clock starts at.
	Genesis = 1_700_000_000
	// AgreementDuration is the validity window of minted test agreements.
	AgreementDuration = 30 * 24 * 60 * 60
)

// Unit is one whole token in base units.
var Unit = big.NewInt(1_000_000_000_000_000_000)

// Milli returns n thousandths of a Unit.
func Milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}

// Setup is a settlement engine over an in-memory ledger with a payer and a
// payee that share one agreement.
type Setup struct {
	T           *testing.T
	Rng         *rand.Rand
	Ledger      *ledger.Ledger
	Registry    *registry.StoreRegistry
	Clock       *clock.Mock
	Events      *event.Recorder
	Domain      wire.Domain
	Engine      *channel.Engine
	Payer       *wallet.Account
	Payee       *wallet.Account
	AgreementID *big.Int
}

// NewTestSetup creates a Setup whose payer holds 10 Units.
func NewTestSetup(t *testing.T, opts ...channel.Option) *Setup {
	t.Helper()
	rng := pkgtest.Prng(t)

	payer, err := wallet.NewRandomAccount(rng)
	require.NoError(t, err)
	payee, err := wallet.NewRandomAccount(rng)
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(time.Unix(Genesis, 0))

	reg := registry.NewMemoryRegistry()
	id, err := reg.Mint(context.Background(), payer.EthAddress(), payee.EthAddress(), Genesis, Genesis+AgreementDuration, Milli(100), NewRandomHash(rng))
	require.NoError(t, err)

	s := &Setup{
		T:           t,
		Rng:         rng,
		Ledger:      ledger.NewInMemory(),
		Registry:    reg,
		Clock:       clk,
		Events:      new(event.Recorder),
		Domain:      wire.DefaultDomain(big.NewInt(ChainID), NewRandomAddress(rng)),
		Payer:       payer,
		Payee:       payee,
		AgreementID: id,
	}
	opts = append([]channel.Option{channel.WithClock(clk), channel.WithEmitter(s.Events)}, opts...)
	s.Engine = channel.NewEngine(s.Ledger, reg, s.Domain, opts...)
	require.NoError(t, s.Engine.Credit(context.Background(), payer.EthAddress(), new(big.Int).Mul(big.NewInt(10), Unit)))
	return s
}

// NewCtx returns a context that is cancelled after timeout or when the test
// ends.
func (s *Setup) NewCtx(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.T.Cleanup(cancel)
	return ctx
}

// Now returns the mock time in unix seconds.
func (s *Setup) Now() uint64 {
	return uint64(s.Clock.Now().Unix())
}

// Open opens the setup's channel with the given deposit and timeout.
func (s *Setup) Open(deposit *big.Int, timeout time.Duration) {
	s.T.Helper()
	err := s.Engine.Open(s.NewCtx(DefaultTestTimeout), s.PayerCall(deposit), s.AgreementID, channel.TimeoutSeconds(timeout))
	require.NoError(s.T, err)
}

// PayerCall returns a call from the payer attaching value.
func (s *Setup) PayerCall(value *big.Int) channel.Call {
	return channel.Call{From: s.Payer.EthAddress(), Value: value}
}

// Voucher returns a voucher for the setup's channel expiring expiresIn from
// now.
func (s *Setup) Voucher(amount *big.Int, nonce int64, expiresIn time.Duration) wire.Voucher {
	expiry := new(big.Int).SetInt64(s.Clock.Now().Add(expiresIn).Unix())
	return wire.Voucher{
		Payer:       s.Payer.EthAddress(),
		Payee:       s.Payee.EthAddress(),
		AgreementID: new(big.Int).Set(s.AgreementID),
		Amount:      new(big.Int).Set(amount),
		Nonce:       big.NewInt(nonce),
		Expiry:      expiry,
	}
}

// Sign signs v with the payer's key.
func (s *Setup) Sign(v wire.Voucher) []byte {
	s.T.Helper()
	sig, err := s.Payer.SignVoucher(v, s.Domain)
	require.NoError(s.T, err)
	return sig
}

// Balance returns the custody balance of addr.
func (s *Setup) Balance(addr common.Address) *big.Int {
	s.T.Helper()
	b, err := s.Engine.Balance(context.Background(), addr)
	require.NoError(s.T, err)
	return b
}

// Balances returns the balances of payer, payee and escrow.
func (s *Setup) Balances() (payer, payee, escrow *big.Int) {
	return s.Balance(s.Payer.EthAddress()), s.Balance(s.Payee.EthAddress()), s.Balance(s.Engine.Escrow())
}

// Channel returns the setup's channel record.
func (s *Setup) Channel() channel.ChannelInfo {
	s.T.Helper()
	ch, err := s.Engine.Channel(context.Background(), s.AgreementID)
	require.NoError(s.T, err)
	return ch
}

// NewRandomAddress returns a random non-zero address.
func NewRandomAddress(rng *rand.Rand) common.Address {
	var a common.Address
	for a == (common.Address{}) {
		rng.Read(a[:])
	}
	return a
}

// NewRandomHash returns a random hash.
func NewRandomHash(rng *rand.Rand) common.Hash {
	var h common.Hash
	rng.Read(h[:])
	return h
}
