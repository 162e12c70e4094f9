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

package ledger

import (
	"context"
	"encoding"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-datastore"
	"github.com/pkg/errors"

	"perun.network/perun-rentchannel-backend/wire"
)

var (
	ErrReadOnly          = errors.New("write in read-only transaction")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidChannel    = errors.New("invalid channel record")
	ErrNonceRegression   = errors.New("nonce watermark must increase")
	ErrNegativeAmount    = errors.New("negative amount")
)

// Tx is a ledger transaction. Reads observe the transaction's own writes.
// A Tx must not be used after the function it was passed to returns.
type Tx struct {
	ctx      context.Context
	ds       datastore.Read
	readOnly bool
	writes   map[datastore.Key][]byte
	order    []datastore.Key
}

func newTx(ctx context.Context, ds datastore.Read, readOnly bool) *Tx {
	return &Tx{
		ctx:      ctx,
		ds:       ds,
		readOnly: readOnly,
		writes:   make(map[datastore.Key][]byte),
	}
}

// Channel returns the channel record of the agreement. A never opened
// agreement yields a closed record with zero values.
func (tx *Tx) Channel(id *big.Int) (wire.Channel, error) {
	ch := wire.NewChannel()
	found, err := tx.get(channelKey(id), &ch)
	if err != nil || !found {
		return wire.NewChannel(), err
	}
	return ch, nil
}

// PutChannel stores the channel record of the agreement. An open channel
// must have a positive deposit and both parties set; a closed channel must
// hold no deposit.
func (tx *Tx) PutChannel(id *big.Int, ch wire.Channel) error {
	if ch.Open {
		if ch.Deposit == nil || ch.Deposit.Sign() <= 0 {
			return errors.WithMessage(ErrInvalidChannel, "open channel without deposit")
		}
		if ch.Payer == (common.Address{}) || ch.Payee == (common.Address{}) {
			return errors.WithMessage(ErrInvalidChannel, "open channel without parties")
		}
	} else if ch.Deposit != nil && ch.Deposit.Sign() != 0 {
		return errors.WithMessage(ErrInvalidChannel, "closed channel with deposit")
	}
	return tx.put(channelKey(id), ch)
}

// LastNonce returns the highest nonce ever accepted for payer and agreement,
// zero if none.
func (tx *Tx) LastNonce(payer common.Address, id *big.Int) (*big.Int, error) {
	return tx.amount(nonceKey(payer, id))
}

// SetLastNonce raises the nonce watermark of payer and agreement.
func (tx *Tx) SetLastNonce(payer common.Address, id *big.Int, nonce *big.Int) error {
	last, err := tx.LastNonce(payer, id)
	if err != nil {
		return err
	}
	if nonce.Cmp(last) <= 0 {
		return errors.WithMessagef(ErrNonceRegression, "%s <= %s", nonce, last)
	}
	return tx.put(nonceKey(payer, id), wire.Amount{Value: nonce})
}

// Balance returns the custody balance of addr.
func (tx *Tx) Balance(addr common.Address) (*big.Int, error) {
	return tx.amount(balanceKey(addr))
}

// Credit adds amount to the balance of addr.
func (tx *Tx) Credit(addr common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, err := tx.Balance(addr)
	if err != nil {
		return err
	}
	return tx.put(balanceKey(addr), wire.Amount{Value: bal.Add(bal, amount)})
}

// Transfer moves amount from one balance to another.
func (tx *Tx) Transfer(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := tx.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return errors.WithMessagef(ErrInsufficientFunds, "%s has %s, needs %s", from.Hex(), fromBal, amount)
	}
	if err := tx.put(balanceKey(from), wire.Amount{Value: fromBal.Sub(fromBal, amount)}); err != nil {
		return err
	}
	return tx.Credit(to, amount)
}

func (tx *Tx) amount(key datastore.Key) (*big.Int, error) {
	var a wire.Amount
	found, err := tx.get(key, &a)
	if err != nil {
		return nil, err
	}
	if !found || a.Value == nil {
		return new(big.Int), nil
	}
	return a.Value, nil
}

func (tx *Tx) get(key datastore.Key, v encoding.BinaryUnmarshaler) (bool, error) {
	data, ok := tx.writes[key]
	if !ok {
		var err error
		data, err = tx.ds.Get(tx.ctx, key)
		if errors.Is(err, datastore.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, errors.WithMessagef(err, "reading %s", key)
		}
	}
	if err := v.UnmarshalBinary(data); err != nil {
		return false, errors.WithMessagef(err, "decoding %s", key)
	}
	return true, nil
}

func (tx *Tx) put(key datastore.Key, v encoding.BinaryMarshaler) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	data, err := v.MarshalBinary()
	if err != nil {
		return errors.WithMessagef(err, "encoding %s", key)
	}
	if _, ok := tx.writes[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = data
	return nil
}

// commit writes all staged values atomically when the datastore supports
// transactions, and as one batch otherwise.
func (tx *Tx) commit(ctx context.Context, ds datastore.Batching) error {
	if len(tx.order) == 0 {
		return nil
	}
	if tds, ok := ds.(datastore.TxnDatastore); ok {
		txn, err := tds.NewTransaction(ctx, false)
		if err != nil {
			return err
		}
		for _, k := range tx.order {
			if err := txn.Put(ctx, k, tx.writes[k]); err != nil {
				txn.Discard(ctx)
				return err
			}
		}
		return txn.Commit(ctx)
	}
	batch, err := ds.Batch(ctx)
	if err != nil {
		return err
	}
	for _, k := range tx.order {
		if err := batch.Put(ctx, k, tx.writes[k]); err != nil {
			return err
		}
	}
	return batch.Commit(ctx)
}
