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

package channel_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"perun.network/perun-rentchannel-backend/channel"
	chtest "perun.network/perun-rentchannel-backend/channel/test"
	"perun.network/perun-rentchannel-backend/event"
	"perun.network/perun-rentchannel-backend/ledger"
	"perun.network/perun-rentchannel-backend/registry"
	"perun.network/perun-rentchannel-backend/wallet"
)

func requireBig(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.Zerof(t, want.Cmp(got), "want %s, got %s", want, got)
}

func TestOpen_Happy(t *testing.T) {
	s := chtest.NewTestSetup(t)
	payer0, _, _ := s.Balances()

	s.Open(chtest.Unit, 300*time.Second)

	ch := s.Channel()
	require.True(t, ch.Open)
	requireBig(t, chtest.Unit, ch.Deposit)
	require.Equal(t, s.Payer.EthAddress(), ch.Payer)
	require.Equal(t, s.Payee.EthAddress(), ch.Payee)
	require.Equal(t, s.Now()+300, ch.TimeoutAt)

	payer, _, escrow := s.Balances()
	requireBig(t, new(big.Int).Sub(payer0, chtest.Unit), payer)
	requireBig(t, chtest.Unit, escrow)

	err := s.Engine.Open(s.NewCtx(chtest.DefaultTestTimeout), s.PayerCall(chtest.Unit), s.AgreementID, 300)
	require.ErrorIs(t, err, channel.ErrAlreadyOpen)
	require.Equal(t, channel.KindState, channel.KindOf(err))

	evs := s.Events.Events()
	require.Len(t, evs, 1)
	opened := evs[0].(*event.Opened)
	requireBig(t, chtest.Unit, opened.Deposit)
}

func TestOpen_Rejections(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)

	err := s.Engine.Open(ctx, s.PayerCall(chtest.Unit), big.NewInt(99), 300)
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.Equal(t, channel.KindNotFound, channel.KindOf(err))

	err = s.Engine.Open(ctx, s.PayerCall(new(big.Int)), s.AgreementID, 300)
	require.ErrorIs(t, err, channel.ErrZeroFunding)

	err = s.Engine.Open(ctx, s.PayerCall(nil), s.AgreementID, 300)
	require.ErrorIs(t, err, channel.ErrZeroFunding)

	payeeCall := channel.Call{From: s.Payee.EthAddress(), Value: chtest.Unit}
	err = s.Engine.Open(ctx, payeeCall, s.AgreementID, 300)
	require.ErrorIs(t, err, channel.ErrNotPayer)
	require.Equal(t, channel.KindAuthorization, channel.KindOf(err))

	tooMuch := new(big.Int).Mul(big.NewInt(11), chtest.Unit)
	err = s.Engine.Open(ctx, s.PayerCall(tooMuch), s.AgreementID, 300)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	err = s.Engine.Open(ctx, s.PayerCall(chtest.Unit), s.AgreementID, uint64(channel.MaxTimeout/time.Second)+1)
	require.ErrorIs(t, err, channel.ErrInvalidTimeout)

	err = s.Engine.Open(ctx, s.PayerCall(chtest.Unit), big.NewInt(-1), 300)
	require.ErrorIs(t, err, channel.ErrInvalidAgreement)

	require.False(t, s.Channel().Open)
	_, _, escrow := s.Balances()
	require.Zero(t, escrow.Sign())
	require.Empty(t, s.Events.Events())
}

func TestOpen_CheckOrder(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Unit, time.Minute)

	// AlreadyOpen wins over ZeroFunding and NotPayer.
	err := s.Engine.Open(ctx, channel.Call{From: s.Payee.EthAddress()}, s.AgreementID, 300)
	require.ErrorIs(t, err, channel.ErrAlreadyOpen)

	// ZeroFunding wins over NotPayer on a closed channel.
	_, err = s.Engine.TimeoutClose(ctx, s.AgreementID)
	require.ErrorIs(t, err, channel.ErrTooEarly)
	s.Clock.Add(time.Minute)
	_, err = s.Engine.TimeoutClose(ctx, s.AgreementID)
	require.NoError(t, err)
	err = s.Engine.Open(ctx, channel.Call{From: s.Payee.EthAddress()}, s.AgreementID, 300)
	require.ErrorIs(t, err, channel.ErrZeroFunding)
}

func TestDepositMore(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)

	err := s.Engine.DepositMore(ctx, s.PayerCall(chtest.Unit), s.AgreementID)
	require.ErrorIs(t, err, channel.ErrNotOpen)

	s.Open(chtest.Milli(500), time.Hour)
	timeoutAt := s.Channel().TimeoutAt
	s.Clock.Add(time.Minute)

	require.NoError(t, s.Engine.DepositMore(ctx, s.PayerCall(chtest.Milli(250)), s.AgreementID))
	ch := s.Channel()
	requireBig(t, chtest.Milli(750), ch.Deposit)
	require.Equal(t, timeoutAt, ch.TimeoutAt)

	err = s.Engine.DepositMore(ctx, channel.Call{From: s.Payee.EthAddress(), Value: chtest.Unit}, s.AgreementID)
	require.ErrorIs(t, err, channel.ErrNotPayer)
	err = s.Engine.DepositMore(ctx, s.PayerCall(new(big.Int)), s.AgreementID)
	require.ErrorIs(t, err, channel.ErrZeroFunding)

	_, _, escrow := s.Balances()
	requireBig(t, chtest.Milli(750), escrow)

	evs := s.Events.Events()
	require.Len(t, evs, 2)
	dep := evs[1].(*event.Deposited)
	requireBig(t, chtest.Milli(250), dep.Amount)
	requireBig(t, chtest.Milli(750), dep.Deposit)
}

func TestClose_HappyPath(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	payer0, payee0, _ := s.Balances()

	s.Open(chtest.Unit, 300*time.Second)
	v := s.Voucher(chtest.Milli(600), 1, 600*time.Second)
	payout, err := s.Engine.Close(ctx, v, s.Sign(v))
	require.NoError(t, err)
	requireBig(t, chtest.Milli(600), payout.Paid)
	requireBig(t, chtest.Milli(400), payout.Refunded)

	payer, payee, escrow := s.Balances()
	requireBig(t, new(big.Int).Add(payee0, chtest.Milli(600)), payee)
	requireBig(t, new(big.Int).Sub(payer0, chtest.Milli(600)), payer)
	require.Zero(t, escrow.Sign())

	ch := s.Channel()
	require.False(t, ch.Open)
	require.Zero(t, ch.Deposit.Sign())
	requireBig(t, chtest.Milli(600), ch.Claimed)
	requireBig(t, big.NewInt(1), ch.Nonce)

	last, err := s.Engine.LastNonce(ctx, s.Payer.EthAddress(), s.AgreementID)
	require.NoError(t, err)
	requireBig(t, big.NewInt(1), last)

	evs := s.Events.Events()
	require.Len(t, evs, 2)
	closed := evs[1].(*event.Closed)
	requireBig(t, chtest.Milli(600), closed.Paid)
	requireBig(t, chtest.Milli(400), closed.Refunded)
}

func TestClose_Twice(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Unit, time.Hour)

	v := s.Voucher(chtest.Milli(600), 1, time.Hour)
	sig := s.Sign(v)
	_, err := s.Engine.Close(ctx, v, sig)
	require.NoError(t, err)
	_, payee, _ := s.Balances()

	_, err = s.Engine.Close(ctx, v, sig)
	require.ErrorIs(t, err, channel.ErrNotOpen)
	_, payeeAfter, _ := s.Balances()
	requireBig(t, payee, payeeAfter)
}

func TestClose_ReplayAcrossReopen(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)

	s.Open(chtest.Unit, 300*time.Second)
	v := s.Voucher(chtest.Milli(600), 1, 600*time.Second)
	_, err := s.Engine.Close(ctx, v, s.Sign(v))
	require.NoError(t, err)

	s.Open(chtest.Unit, 300*time.Second)
	_, err = s.Engine.Close(ctx, v, s.Sign(v))
	require.ErrorIs(t, err, channel.ErrReplayedNonce)
	require.Equal(t, channel.KindStaleness, channel.KindOf(err))

	// Re-signed with the same nonce and a fresh expiry.
	again := s.Voucher(chtest.Milli(100), 1, time.Hour)
	_, err = s.Engine.Close(ctx, again, s.Sign(again))
	require.ErrorIs(t, err, channel.ErrReplayedNonce)

	// Also across a timeout close.
	s.Clock.Add(300 * time.Second)
	_, err = s.Engine.TimeoutClose(ctx, s.AgreementID)
	require.NoError(t, err)
	s.Open(chtest.Milli(500), 300*time.Second)
	again = s.Voucher(chtest.Milli(100), 1, time.Hour)
	_, err = s.Engine.Close(ctx, again, s.Sign(again))
	require.ErrorIs(t, err, channel.ErrReplayedNonce)

	next := s.Voucher(chtest.Milli(100), 2, time.Hour)
	_, err = s.Engine.Close(ctx, next, s.Sign(next))
	require.NoError(t, err)
}

func TestTimeoutClose(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	payer0, _, _ := s.Balances()

	_, err := s.Engine.TimeoutClose(ctx, s.AgreementID)
	require.ErrorIs(t, err, channel.ErrNotOpen)

	s.Open(chtest.Milli(500), time.Second)
	_, err = s.Engine.TimeoutClose(ctx, s.AgreementID)
	require.ErrorIs(t, err, channel.ErrTooEarly)

	s.Clock.Add(2 * time.Second)
	refunded, err := s.Engine.TimeoutClose(ctx, s.AgreementID)
	require.NoError(t, err)
	requireBig(t, chtest.Milli(500), refunded)

	payer, _, escrow := s.Balances()
	requireBig(t, payer0, payer)
	require.Zero(t, escrow.Sign())
	require.False(t, s.Channel().Open)

	evs := s.Events.Events()
	require.Equal(t, event.TypeTimeoutClosed, evs[len(evs)-1].Type())
}

func TestTimeoutClose_AtDeadline(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Milli(500), 10*time.Second)
	s.Clock.Add(9 * time.Second)
	_, err := s.Engine.TimeoutClose(ctx, s.AgreementID)
	require.ErrorIs(t, err, channel.ErrTooEarly)
	s.Clock.Add(time.Second)
	_, err = s.Engine.TimeoutClose(ctx, s.AgreementID)
	require.NoError(t, err)
}

func TestClose_Expired(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Milli(500), time.Hour)
	payer0, payee0, escrow0 := s.Balances()

	v := s.Voucher(chtest.Milli(100), 1, -time.Second)
	_, err := s.Engine.Close(ctx, v, s.Sign(v))
	require.ErrorIs(t, err, channel.ErrExpired)
	require.Equal(t, channel.KindStaleness, channel.KindOf(err))

	payer, payee, escrow := s.Balances()
	requireBig(t, payer0, payer)
	requireBig(t, payee0, payee)
	requireBig(t, escrow0, escrow)
	require.True(t, s.Channel().Open)

	// Expiry is inclusive.
	v = s.Voucher(chtest.Milli(100), 1, 0)
	_, err = s.Engine.Close(ctx, v, s.Sign(v))
	require.NoError(t, err)
}

func TestClose_Overdraft(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Milli(500), time.Hour)

	v := s.Voucher(chtest.Milli(501), 1, time.Hour)
	_, err := s.Engine.Close(ctx, v, s.Sign(v))
	require.ErrorIs(t, err, channel.ErrOverdraft)
	require.Equal(t, channel.KindValue, channel.KindOf(err))
	require.True(t, s.Channel().Open)

	// A rejected voucher does not burn its nonce.
	v = s.Voucher(chtest.Milli(500), 1, time.Hour)
	payout, err := s.Engine.Close(ctx, v, s.Sign(v))
	require.NoError(t, err)
	requireBig(t, chtest.Milli(500), payout.Paid)
	require.Zero(t, payout.Refunded.Sign())
}

func TestClose_BadSignature(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Unit, time.Hour)
	v := s.Voucher(chtest.Milli(100), 1, time.Hour)

	payeeSig, err := s.Payee.SignVoucher(v, s.Domain)
	require.NoError(t, err)
	_, err = s.Engine.Close(ctx, v, payeeSig)
	require.ErrorIs(t, err, channel.ErrBadSignature)
	require.Equal(t, channel.KindAuthorization, channel.KindOf(err))

	sig := s.Sign(v)
	_, err = s.Engine.Close(ctx, v, sig[:64])
	require.ErrorIs(t, err, channel.ErrBadSignature)

	tampered := v.Clone()
	tampered.Amount = chtest.Milli(900)
	_, err = s.Engine.Close(ctx, tampered, sig)
	require.ErrorIs(t, err, channel.ErrBadSignature)

	otherChain := s.Domain
	otherChain.ChainID = big.NewInt(1)
	otherSig, err := s.Payer.SignVoucher(v, otherChain)
	require.NoError(t, err)
	_, err = s.Engine.Close(ctx, v, otherSig)
	require.ErrorIs(t, err, channel.ErrBadSignature)

	require.True(t, s.Channel().Open)
}

func TestClose_PartyMismatch(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Unit, time.Hour)

	v := s.Voucher(chtest.Milli(100), 1, time.Hour)
	v.Payee = s.Payer.EthAddress()
	_, err := s.Engine.Close(ctx, v, s.Sign(v))
	require.ErrorIs(t, err, channel.ErrPartyMismatch)

	_, err = s.Engine.Close(ctx, s.Voucher(chtest.Milli(100), 1, time.Hour), nil)
	require.ErrorIs(t, err, channel.ErrBadSignature)

	malformed := s.Voucher(chtest.Milli(100), 1, time.Hour)
	malformed.Nonce = nil
	_, err = s.Engine.Close(ctx, malformed, nil)
	require.ErrorIs(t, err, channel.ErrMalformedVoucher)
}

func TestConservation(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	nonce := int64(0)
	for i := 0; i < 20; i++ {
		deposit := big.NewInt(1 + s.Rng.Int63n(1_000_000))
		s.Open(deposit, time.Hour)
		if s.Rng.Intn(2) == 0 {
			require.NoError(t, s.Engine.DepositMore(ctx, s.PayerCall(big.NewInt(1+s.Rng.Int63n(1000))), s.AgreementID))
		}
		total := s.Channel().Deposit
		amount := new(big.Int).Rand(s.Rng, new(big.Int).Add(total, big.NewInt(1)))
		nonce += 1 + s.Rng.Int63n(3)

		payer0, payee0, escrow0 := s.Balances()
		v := s.Voucher(amount, nonce, time.Hour)
		payout, err := s.Engine.Close(ctx, v, s.Sign(v))
		require.NoError(t, err)

		requireBig(t, total, new(big.Int).Add(payout.Paid, payout.Refunded))
		payer, payee, escrow := s.Balances()
		requireBig(t, new(big.Int).Add(payer0, payout.Refunded), payer)
		requireBig(t, new(big.Int).Add(payee0, payout.Paid), payee)
		requireBig(t, new(big.Int).Sub(escrow0, total), escrow)
		sum0 := new(big.Int).Add(new(big.Int).Add(payer0, payee0), escrow0)
		sum := new(big.Int).Add(new(big.Int).Add(payer, payee), escrow)
		requireBig(t, sum0, sum)
	}
}

func TestClose_Concurrent(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Unit, time.Hour)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		v := s.Voucher(chtest.Milli(int64(100+i)), int64(1+i), time.Hour)
		sig := s.Sign(v)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Engine.Close(ctx, v, sig)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, channel.ErrNotOpen)
	}
	require.Equal(t, 1, succeeded)
	_, _, escrow := s.Balances()
	require.Zero(t, escrow.Sign())
}

func TestVerifierInjection(t *testing.T) {
	s := chtest.NewTestSetup(t, channel.WithVerifier(rejectAll{}))
	ctx := s.NewCtx(chtest.DefaultTestTimeout)
	s.Open(chtest.Unit, time.Hour)
	v := s.Voucher(chtest.Milli(100), 1, time.Hour)
	_, err := s.Engine.Close(ctx, v, s.Sign(v))
	require.ErrorIs(t, err, channel.ErrBadSignature)
}

type rejectAll struct{}

var _ wallet.Verifier = rejectAll{}

func (rejectAll) Recover([]byte, []byte) (common.Address, bool) {
	return common.Address{}, false
}

func TestOpenChannelsAndCredit(t *testing.T) {
	s := chtest.NewTestSetup(t)
	ctx := context.Background()
	n, err := s.Engine.OpenChannels(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	s.Open(chtest.Unit, time.Hour)
	n, err = s.Engine.OpenChannels(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.ErrorIs(t, s.Engine.Credit(ctx, s.Payee.EthAddress(), new(big.Int)), channel.ErrZeroFunding)
	require.NoError(t, s.Engine.Credit(ctx, s.Payee.EthAddress(), big.NewInt(5)))
	requireBig(t, big.NewInt(5), s.Balance(s.Payee.EthAddress()))
}
