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
	"crypto/ecdsa"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"perun.network/go-perun/wallet"

	"perun.network/perun-rentchannel-backend/wallet/types"
	"perun.network/perun-rentchannel-backend/wire"
)

// Account is used for signing vouchers.
type Account struct {
	// privateKey is the secp256k1 key of the account.
	privateKey *ecdsa.PrivateKey
}

// NewAccount wraps the given private key.
func NewAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{privateKey: key}
}

// NewAccountFromHex creates an account from a hex encoded private key.
func NewAccountFromHex(hexKey string) (*Account, error) {
	if len(hexKey) > 1 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}
	return NewAccount(key), nil
}

// NewRandomAccount creates an account with a private key read from rng.
func NewRandomAccount(rng io.Reader) (*Account, error) {
	seed := make([]byte, 32) //nolint:gomnd
	for {
		if _, err := io.ReadFull(rng, seed); err != nil {
			return nil, err
		}
		// ToECDSA rejects zero and out of range scalars; draw again.
		key, err := crypto.ToECDSA(seed)
		if err == nil {
			return NewAccount(key), nil
		}
	}
}

// Address returns the address of the account as wallet address.
func (a Account) Address() wallet.Address {
	return types.AsWalletAddr(a.EthAddress())
}

// EthAddress returns the address of the account.
func (a Account) EthAddress() common.Address {
	return crypto.PubkeyToAddress(a.privateKey.PublicKey)
}

// PrivateKeyHex returns the hex encoded private key.
func (a Account) PrivateKeyHex() string {
	return common.Bytes2Hex(crypto.FromECDSA(a.privateKey))
}

// SignData signs keccak256(data) and returns [R || S || V] with V in {27, 28}.
func (a Account) SignData(data []byte) ([]byte, error) {
	if a.privateKey == nil {
		return nil, errors.New("account has no private key")
	}
	sig, err := crypto.Sign(crypto.Keccak256(data), a.privateKey)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignVoucher signs the EIP-712 encoding of v under domain d.
func (a Account) SignVoucher(v wire.Voucher, d wire.Domain) ([]byte, error) {
	msg, err := v.SigningBytes(d)
	if err != nil {
		return nil, err
	}
	return a.SignData(msg)
}
