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

// Package ledger holds the durable settlement state: channel records, the
// per payer and agreement nonce watermark, and custody balances. All access
// goes through serialized all-or-nothing transactions over an injected
// go-datastore.
package ledger

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	"polycry.pt/poly-go/sync"

	"perun.network/perun-rentchannel-backend/wire"
)

var (
	channelPrefix = datastore.NewKey("/channel")
	noncePrefix   = datastore.NewKey("/nonce")
	balancePrefix = datastore.NewKey("/balance")
)

// Ledger is the authoritative settlement state.
type Ledger struct {
	log.Embedding

	lock sync.Mutex
	ds   datastore.Batching
}

// ChannelEntry is a channel record together with its agreement id.
type ChannelEntry struct {
	AgreementID *big.Int
	Channel     wire.Channel
}

// New returns a ledger on top of ds.
func New(ds datastore.Batching) *Ledger {
	return &Ledger{
		Embedding: log.MakeEmbedding(log.Default()),
		ds:        ds,
	}
}

// NewInMemory returns a ledger backed by a thread-safe map datastore.
func NewInMemory() *Ledger {
	return New(dssync.MutexWrap(datastore.NewMapDatastore()))
}

// Update runs fn in a read-write transaction. If fn returns an error, none
// of its writes become visible. Transactions are serialized.
func (l *Ledger) Update(ctx context.Context, fn func(*Tx) error) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	tx := newTx(ctx, l.ds, false)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.commit(ctx, l.ds); err != nil {
		l.Log().WithError(err).Error("committing ledger transaction")
		return errors.WithMessage(err, "committing ledger transaction")
	}
	return nil
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(*Tx) error) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return fn(newTx(ctx, l.ds, true))
}

// Channels returns all channel records, ordered by key.
func (l *Ledger) Channels(ctx context.Context) ([]ChannelEntry, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	res, err := l.ds.Query(ctx, query.Query{
		Prefix: channelPrefix.String(),
		Orders: []query.Order{query.OrderByKey{}},
	})
	if err != nil {
		return nil, err
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, err
	}
	out := make([]ChannelEntry, 0, len(entries))
	for _, e := range entries {
		id, ok := new(big.Int).SetString(datastore.RawKey(e.Key).BaseNamespace(), 10) //nolint:gomnd
		if !ok {
			return nil, errors.Errorf("malformed channel key %s", e.Key)
		}
		var ch wire.Channel
		if err := ch.UnmarshalBinary(e.Value); err != nil {
			return nil, errors.WithMessagef(err, "decoding channel %s", id)
		}
		out = append(out, ChannelEntry{AgreementID: id, Channel: ch})
	}
	return out, nil
}

// Close closes the underlying datastore.
func (l *Ledger) Close() error {
	return l.ds.Close()
}

func channelKey(id *big.Int) datastore.Key {
	return channelPrefix.ChildString(id.String())
}

func nonceKey(payer common.Address, id *big.Int) datastore.Key {
	return noncePrefix.ChildString(addrString(payer)).ChildString(id.String())
}

func balanceKey(addr common.Address) datastore.Key {
	return balancePrefix.ChildString(addrString(addr))
}

func addrString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
