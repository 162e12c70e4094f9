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

package types

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"perun.network/go-perun/wallet"
)

// AddressBinaryLen is the encoded size of an EthAddress.
const AddressBinaryLen = common.AddressLength

var _ wallet.Address = (*EthAddress)(nil)

// EthAddress is the go-perun wallet.Address of payers, payees and the
// settlement contract.
type EthAddress common.Address

// ParseAddress parses a 0x-prefixed hex address as it appears on the command
// line and in relay URLs.
func ParseAddress(s string) (*EthAddress, error) {
	if !common.IsHexAddress(s) {
		return nil, fmt.Errorf("invalid address %q", s) //nolint: goerr113
	}
	return AsWalletAddr(common.HexToAddress(s)), nil
}

// MarshalBinary returns the 20 address bytes.
func (a *EthAddress) MarshalBinary() ([]byte, error) {
	return common.Address(*a).Bytes(), nil
}

// UnmarshalBinary sets a from exactly AddressBinaryLen bytes.
func (a *EthAddress) UnmarshalBinary(data []byte) error {
	if len(data) != AddressBinaryLen {
		return fmt.Errorf("address has %d bytes, want %d", len(data), AddressBinaryLen) //nolint: goerr113
	}
	copy(a[:], data)
	return nil
}

// MarshalText renders the address in JSON outputs as EIP-55 hex.
func (a *EthAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// String returns the EIP-55 checksummed hex form.
func (a *EthAddress) String() string {
	return common.Address(*a).Hex()
}

// Equal reports whether addr is an EthAddress with the same bytes.
func (a *EthAddress) Equal(addr wallet.Address) bool {
	other, ok := addr.(*EthAddress)
	return ok && *a == *other
}

// Cmp orders addresses by their bytes. It panics on foreign address types.
func (a *EthAddress) Cmp(addr wallet.Address) int {
	other, ok := addr.(*EthAddress)
	if !ok {
		panic(fmt.Sprintf("cannot compare %T with %T", a, addr))
	}
	return bytes.Compare(a[:], other[:])
}

// AsEthAddr returns the ethereum address of a, which must be an EthAddress.
func AsEthAddr(a wallet.Address) common.Address {
	addr, err := ToEthAddr(a)
	if err != nil {
		panic(err)
	}
	return addr
}

// ToEthAddr returns the ethereum address of a or an error for foreign types.
func ToEthAddr(a wallet.Address) (common.Address, error) {
	addr, ok := a.(*EthAddress)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected address type %T", a) //nolint: goerr113
	}
	return common.Address(*addr), nil
}

// AsWalletAddr wraps an ethereum address.
func AsWalletAddr(addr common.Address) *EthAddress {
	a := EthAddress(addr)
	return &a
}
