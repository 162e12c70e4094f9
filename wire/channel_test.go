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

package wire_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-rentchannel-backend/wire"
)

func TestChannelRecord(t *testing.T) {
	rng := pkgtest.Prng(t)
	ch := wire.NewChannel()
	rng.Read(ch.Payer[:])
	rng.Read(ch.Payee[:])
	ch.Deposit = new(big.Int).Lsh(big.NewInt(rng.Int63()), 100)
	ch.Claimed = big.NewInt(rng.Int63())
	ch.Nonce = big.NewInt(7)
	ch.TimeoutAt = rng.Uint64()
	ch.Open = true

	data, err := ch.MarshalBinary()
	require.NoError(t, err)

	var decoded wire.Channel
	require.NoError(t, decoded.UnmarshalBinary(data))
	require.Equal(t, ch.Payer, decoded.Payer)
	require.Equal(t, ch.Payee, decoded.Payee)
	require.Zero(t, ch.Deposit.Cmp(decoded.Deposit))
	require.Zero(t, ch.Claimed.Cmp(decoded.Claimed))
	require.Zero(t, ch.Nonce.Cmp(decoded.Nonce))
	require.Equal(t, ch.TimeoutAt, decoded.TimeoutAt)
	require.True(t, decoded.Open)

	again, err := decoded.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, data, again)

	require.Error(t, decoded.UnmarshalBinary(data[:len(data)-3]))
}

func TestChannelRecordRejects(t *testing.T) {
	ch := wire.NewChannel()
	ch.Deposit = big.NewInt(-5)
	_, err := ch.MarshalBinary()
	require.ErrorIs(t, err, wire.ErrNegative)

	a := wire.Amount{Value: big.NewInt(42)}
	data, err := a.MarshalBinary()
	require.NoError(t, err)
	data[3] = 9 // record version
	var b wire.Amount
	require.ErrorIs(t, b.UnmarshalBinary(data), wire.ErrRecordVersion)
}

func TestAmountRecord(t *testing.T) {
	for _, v := range []*big.Int{big.NewInt(0), big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), 255)} {
		data, err := wire.Amount{Value: v}.MarshalBinary()
		require.NoError(t, err)
		require.Len(t, data, 4+32)
		var a wire.Amount
		require.NoError(t, a.UnmarshalBinary(data))
		require.Zero(t, v.Cmp(a.Value))
	}
	data, err := wire.Amount{}.MarshalBinary()
	require.NoError(t, err)
	var a wire.Amount
	require.NoError(t, a.UnmarshalBinary(data))
	require.Zero(t, a.Value.Sign())
}

func TestAgreementRecord(t *testing.T) {
	a := wire.Agreement{
		Payer:         common.HexToAddress("0x01"),
		Payee:         common.HexToAddress("0x02"),
		Start:         10,
		End:           20,
		RentPerPeriod: big.NewInt(7),
		TermsHash:     common.Hash{0xee},
	}
	data, err := a.MarshalBinary()
	require.NoError(t, err)
	var b wire.Agreement
	require.NoError(t, b.UnmarshalBinary(data))
	require.Equal(t, a.Payer, b.Payer)
	require.Equal(t, a.Payee, b.Payee)
	require.Equal(t, a.Start, b.Start)
	require.Equal(t, a.End, b.End)
	require.Zero(t, a.RentPerPeriod.Cmp(b.RentPerPeriod))
	require.Equal(t, a.TermsHash, b.TermsHash)

	require.Error(t, b.UnmarshalBinary(data[:len(data)-1]))
}
