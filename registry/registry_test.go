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

package registry_test

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"perun.network/perun-rentchannel-backend/registry"
)

var (
	landlord = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tenant   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	nftAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestStoreRegistry(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()

	id1, err := r.Mint(ctx, tenant, landlord, 100, 200, big.NewInt(5), common.Hash{1})
	require.NoError(t, err)
	require.Zero(t, id1.Cmp(big.NewInt(1)))
	id2, err := r.Mint(ctx, tenant, landlord, 100, 200, big.NewInt(5), common.Hash{2})
	require.NoError(t, err)
	require.Zero(t, id2.Cmp(big.NewInt(2)))

	a, err := r.Resolve(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, tenant, a.Payer)
	require.Equal(t, landlord, a.Payee)
	require.True(t, a.Active(100))
	require.True(t, a.Active(199))
	require.False(t, a.Active(200))
	require.False(t, a.Active(99))

	require.NoError(t, r.Burn(ctx, id1))
	_, err = r.Resolve(ctx, id1)
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.ErrorIs(t, r.Burn(ctx, id1), registry.ErrNotFound)

	_, err = r.Mint(ctx, common.Address{}, landlord, 100, 200, big.NewInt(5), common.Hash{})
	require.Error(t, err)
	_, err = r.Mint(ctx, tenant, landlord, 200, 200, big.NewInt(5), common.Hash{})
	require.Error(t, err)

	// Burnt ids are not reused.
	id3, err := r.Mint(ctx, tenant, landlord, 100, 200, big.NewInt(5), common.Hash{3})
	require.NoError(t, err)
	require.Zero(t, id3.Cmp(big.NewInt(3)))
}

func TestStoreRegistryPersists(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	id, err := registry.NewStoreRegistry(ds).Mint(ctx, tenant, landlord, 1, 2, big.NewInt(9), common.Hash{9})
	require.NoError(t, err)

	r := registry.NewStoreRegistry(ds)
	a, err := r.Resolve(ctx, id)
	require.NoError(t, err)
	require.Zero(t, a.RentPerPeriod.Cmp(big.NewInt(9)))
	require.Equal(t, common.Hash{9}, a.TermsHash)
	next, err := r.Mint(ctx, tenant, landlord, 1, 2, big.NewInt(9), common.Hash{})
	require.NoError(t, err)
	require.Zero(t, next.Cmp(big.NewInt(2)))
}

// failingStore fails batch commits while fail is set.
type failingStore struct {
	datastore.Batching
	fail bool
}

func (s *failingStore) Batch(ctx context.Context) (datastore.Batch, error) {
	b, err := s.Batching.Batch(ctx)
	if err != nil {
		return nil, err
	}
	return &failingBatch{Batch: b, store: s}, nil
}

type failingBatch struct {
	datastore.Batch
	store *failingStore
}

func (b *failingBatch) Commit(ctx context.Context) error {
	if b.store.fail {
		return errors.New("disk full")
	}
	return b.Batch.Commit(ctx)
}

func TestStoreRegistryFailedMint(t *testing.T) {
	ctx := context.Background()
	ds := &failingStore{Batching: dssync.MutexWrap(datastore.NewMapDatastore())}
	r := registry.NewStoreRegistry(ds)

	first, err := r.Mint(ctx, tenant, landlord, 1, 2, big.NewInt(1), common.Hash{1})
	require.NoError(t, err)

	ds.fail = true
	_, err = r.Mint(ctx, tenant, landlord, 1, 2, big.NewInt(2), common.Hash{2})
	require.Error(t, err)
	_, err = r.Resolve(ctx, big.NewInt(2))
	require.ErrorIs(t, err, registry.ErrNotFound)

	ds.fail = false
	second, err := r.Mint(ctx, tenant, landlord, 1, 2, big.NewInt(3), common.Hash{3})
	require.NoError(t, err)
	require.Zero(t, second.Cmp(big.NewInt(2)))

	a, err := r.Resolve(ctx, first)
	require.NoError(t, err)
	require.Equal(t, common.Hash{1}, a.TermsHash)
	a, err = r.Resolve(ctx, second)
	require.NoError(t, err)
	require.Equal(t, common.Hash{3}, a.TermsHash)
}

// fakeCaller answers getTerms calls from a fixed table.
type fakeCaller struct {
	t      *testing.T
	abi    abi.ABI
	terms  map[string]registry.Terms
	revert bool
	fail   error
}

func newFakeCaller(t *testing.T) *fakeCaller {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registry.AgreementABI))
	require.NoError(t, err)
	return &fakeCaller{t: t, abi: parsed, terms: make(map[string]registry.Terms)}
}

func (c *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	require.Equal(c.t, nftAddr, *call.To)
	if c.fail != nil {
		return nil, c.fail
	}
	if c.revert {
		return nil, errors.New("execution reverted: ERC721: invalid token ID")
	}
	method := c.abi.Methods["getTerms"]
	require.True(c.t, bytes.Equal(method.ID, call.Data[:4]))
	args, err := method.Inputs.Unpack(call.Data[4:])
	require.NoError(c.t, err)
	id := args[0].(*big.Int)
	terms, ok := c.terms[id.String()]
	if !ok {
		terms = registry.Terms{RentPerPeriod: new(big.Int)}
	}
	return method.Outputs.Pack(terms)
}

func TestContractRegistry(t *testing.T) {
	ctx := context.Background()
	caller := newFakeCaller(t)
	caller.terms["7"] = registry.Terms{
		Landlord:      landlord,
		Tenant:        tenant,
		Start:         1000,
		End:           2000,
		RentPerPeriod: big.NewInt(42),
		TermsHash:     [32]byte{0xab},
	}
	r, err := registry.NewContractRegistry(caller, nftAddr)
	require.NoError(t, err)

	a, err := r.Resolve(ctx, big.NewInt(7))
	require.NoError(t, err)
	require.Zero(t, a.ID.Cmp(big.NewInt(7)))
	require.Equal(t, tenant, a.Payer)
	require.Equal(t, landlord, a.Payee)
	require.Equal(t, uint64(1000), a.Start)
	require.Equal(t, uint64(2000), a.End)
	require.Zero(t, a.RentPerPeriod.Cmp(big.NewInt(42)))
	require.Equal(t, common.Hash{0xab}, a.TermsHash)

	t.Run("zero parties", func(t *testing.T) {
		_, err := r.Resolve(ctx, big.NewInt(8))
		require.ErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("revert", func(t *testing.T) {
		caller.revert = true
		defer func() { caller.revert = false }()
		_, err := r.Resolve(ctx, big.NewInt(7))
		require.ErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("transport error", func(t *testing.T) {
		caller.fail = errors.New("connection refused")
		defer func() { caller.fail = nil }()
		_, err := r.Resolve(ctx, big.NewInt(7))
		require.Error(t, err)
		require.NotErrorIs(t, err, registry.ErrNotFound)
	})
}
