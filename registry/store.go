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

package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/pkg/errors"
	"polycry.pt/poly-go/sync"

	"perun.network/perun-rentchannel-backend/wire"
)

var (
	agreementPrefix = datastore.NewKey("/agreement")
	sequenceKey     = datastore.NewKey("/agreement-seq")
)

// StoreRegistry is a Registry that mints agreements into a datastore. Ids are
// assigned sequentially starting at 1.
type StoreRegistry struct {
	mu sync.Mutex
	ds datastore.Batching
}

// NewStoreRegistry returns a registry kept in ds.
func NewStoreRegistry(ds datastore.Batching) *StoreRegistry {
	return &StoreRegistry{ds: ds}
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *StoreRegistry {
	return NewStoreRegistry(dssync.MutexWrap(datastore.NewMapDatastore()))
}

// Mint registers a new agreement and returns its id.
func (r *StoreRegistry) Mint(ctx context.Context, payer, payee common.Address, start, end uint64, rent *big.Int, termsHash common.Hash) (*big.Int, error) {
	if payer == (common.Address{}) || payee == (common.Address{}) {
		return nil, errors.New("agreement parties must be non-zero")
	}
	if end <= start {
		return nil, errors.Errorf("agreement ends at %d before it starts at %d", end, start)
	}
	if rent == nil || rent.Sign() < 0 {
		return nil, errors.New("rent must be non-negative")
	}
	rec := wire.Agreement{
		Payer:         payer,
		Payee:         payee,
		Start:         start,
		End:           end,
		RentPerPeriod: rent,
		TermsHash:     termsHash,
	}
	data, err := rec.MarshalBinary()
	if err != nil {
		return nil, errors.WithMessage(err, "encoding agreement")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	last, err := r.sequence(ctx)
	if err != nil {
		return nil, err
	}
	id := new(big.Int).Add(last, big.NewInt(1))
	seq, err := wire.Amount{Value: id}.MarshalBinary()
	if err != nil {
		return nil, err
	}
	// The record and the sequence are committed together so that a failed
	// mint never leaves an id that the next mint would overwrite.
	b, err := r.ds.Batch(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "starting batch")
	}
	if err := b.Put(ctx, agreementKey(id), data); err != nil {
		return nil, errors.WithMessage(err, "storing agreement")
	}
	if err := b.Put(ctx, sequenceKey, seq); err != nil {
		return nil, errors.WithMessage(err, "storing agreement sequence")
	}
	if err := b.Commit(ctx); err != nil {
		return nil, errors.WithMessagef(err, "committing agreement %s", id)
	}
	return id, nil
}

// Burn removes an agreement. Its id is not reused.
func (r *StoreRegistry) Burn(ctx context.Context, id *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	has, err := r.ds.Has(ctx, agreementKey(id))
	if err != nil {
		return err
	}
	if !has {
		return errors.WithMessagef(ErrNotFound, "agreement %s", id)
	}
	return r.ds.Delete(ctx, agreementKey(id))
}

// Resolve implements Registry.
func (r *StoreRegistry) Resolve(ctx context.Context, id *big.Int) (Agreement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := r.ds.Get(ctx, agreementKey(id))
	if errors.Is(err, datastore.ErrNotFound) {
		return Agreement{}, errors.WithMessagef(ErrNotFound, "agreement %s", id)
	}
	if err != nil {
		return Agreement{}, errors.WithMessagef(err, "reading agreement %s", id)
	}
	var rec wire.Agreement
	if err := rec.UnmarshalBinary(data); err != nil {
		return Agreement{}, errors.WithMessagef(err, "decoding agreement %s", id)
	}
	return Agreement{
		ID:            new(big.Int).Set(id),
		Payer:         rec.Payer,
		Payee:         rec.Payee,
		Start:         rec.Start,
		End:           rec.End,
		RentPerPeriod: rec.RentPerPeriod,
		TermsHash:     rec.TermsHash,
	}, nil
}

func (r *StoreRegistry) sequence(ctx context.Context) (*big.Int, error) {
	data, err := r.ds.Get(ctx, sequenceKey)
	if errors.Is(err, datastore.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, errors.WithMessage(err, "reading agreement sequence")
	}
	var seq wire.Amount
	if err := seq.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return seq.Value, nil
}

func agreementKey(id *big.Int) datastore.Key {
	return agreementPrefix.ChildString(id.String())
}
