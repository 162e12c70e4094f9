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

package wallet

import (
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"perun.network/go-perun/wallet"
	"polycry.pt/poly-go/sync"

	"perun.network/perun-rentchannel-backend/wallet/types"
)

var ErrAccountNotFound = errors.New("account not found")

var (
	_ wallet.Wallet  = (*EphemeralWallet)(nil)
	_ wallet.Account = (*Account)(nil)
)

// EphemeralWallet is a wallet that stores accounts in memory.
type EphemeralWallet struct {
	lock     sync.Mutex
	accounts map[common.Address]*Account
}

// NewEphemeralWallet creates a new EphemeralWallet instance.
func NewEphemeralWallet() *EphemeralWallet {
	return &EphemeralWallet{
		accounts: make(map[common.Address]*Account),
	}
}

// Unlock returns the account of a. Accounts of an ephemeral wallet are never
// locked.
func (e *EphemeralWallet) Unlock(a wallet.Address) (wallet.Account, error) {
	addr, err := types.ToEthAddr(a)
	if err != nil {
		return nil, err
	}
	acc, err := e.Account(addr)
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Account returns the account of addr.
func (e *EphemeralWallet) Account(addr common.Address) (*Account, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	account, ok := e.accounts[addr]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// LockAll locks all accounts.
func (e *EphemeralWallet) LockAll() {}

// IncrementUsage increments the usage counter of the account associated with the given address.
func (e *EphemeralWallet) IncrementUsage(address wallet.Address) {}

// DecrementUsage decrements the usage counter of the account associated with the given address.
func (e *EphemeralWallet) DecrementUsage(address wallet.Address) {}

// AddNewAccount generates a new account and adds it to the wallet.
func (e *EphemeralWallet) AddNewAccount(rng io.Reader) (*Account, error) {
	acc, err := NewRandomAccount(rng)
	if err != nil {
		return nil, err
	}
	return acc, e.AddAccount(acc)
}

// AddAccount adds the given account to the wallet.
func (e *EphemeralWallet) AddAccount(acc *Account) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	k := acc.EthAddress()
	if _, ok := e.accounts[k]; ok {
		return errors.New("account already exists")
	}
	e.accounts[k] = acc
	return nil
}
