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

package wire

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const (
	// DomainName is the EIP-712 domain name of the settlement contract.
	DomainName = "RentChannel"
	// DomainVersion is the EIP-712 domain version of the settlement contract.
	DomainVersion = "1"
	// VoucherPrimaryType is the EIP-712 primary type of a voucher.
	VoucherPrimaryType = "Voucher"

	voucherTypeString = "Voucher(address payer,address payee,uint256 agreementId,uint256 amount,uint256 nonce,uint256 expiry)"
	domainTypeString  = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
)

var (
	ErrMissingField = errors.New("missing voucher field")
	ErrNegative     = errors.New("negative value")
	ErrOverflow     = errors.New("value exceeds 256 bits")

	// VoucherTypeHash is keccak256 of the EIP-712 voucher type string.
	VoucherTypeHash = crypto.Keccak256Hash([]byte(voucherTypeString))
	// DomainTypeHash is keccak256 of the EIP-712 domain type string.
	DomainTypeHash = crypto.Keccak256Hash([]byte(domainTypeString))

	typeBytes32 = mustNewType("bytes32")
	typeUint256 = mustNewType("uint256")
	typeAddress = mustNewType("address")
)

// Domain binds a voucher signature to one protocol version, network and
// settlement contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the RentChannel domain for the given chain and
// settlement contract.
func DefaultDomain(chainID *big.Int, contract common.Address) Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: contract,
	}
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() (common.Hash, error) {
	if err := checkUint256(d.ChainID); err != nil {
		return common.Hash{}, errors.WithMessage(err, "chain id")
	}
	args := abi.Arguments{
		{Type: typeBytes32},
		{Type: typeBytes32},
		{Type: typeBytes32},
		{Type: typeUint256},
		{Type: typeAddress},
	}
	enc, err := args.Pack(
		[32]byte(DomainTypeHash),
		[32]byte(crypto.Keccak256Hash([]byte(d.Name))),
		[32]byte(crypto.Keccak256Hash([]byte(d.Version))),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		return common.Hash{}, errors.WithMessage(err, "encoding domain")
	}
	return crypto.Keccak256Hash(enc), nil
}

// Voucher authorizes the payee to claim the cumulative Amount from the
// current incarnation of the channel of AgreementID.
type Voucher struct {
	Payer       common.Address
	Payee       common.Address
	AgreementID *big.Int
	Amount      *big.Int
	Nonce       *big.Int
	Expiry      *big.Int
}

// Validate checks that all numeric fields are set and fit into uint256.
func (v Voucher) Validate() error {
	fields := []struct {
		name string
		val  *big.Int
	}{
		{"agreementId", v.AgreementID},
		{"amount", v.Amount},
		{"nonce", v.Nonce},
		{"expiry", v.Expiry},
	}
	for _, f := range fields {
		if err := checkUint256(f.val); err != nil {
			return errors.WithMessage(err, f.name)
		}
	}
	return nil
}

// StructHash returns the EIP-712 hashStruct of the voucher.
func (v Voucher) StructHash() (common.Hash, error) {
	if err := v.Validate(); err != nil {
		return common.Hash{}, err
	}
	args := abi.Arguments{
		{Type: typeBytes32},
		{Type: typeAddress},
		{Type: typeAddress},
		{Type: typeUint256},
		{Type: typeUint256},
		{Type: typeUint256},
		{Type: typeUint256},
	}
	enc, err := args.Pack(
		[32]byte(VoucherTypeHash),
		v.Payer,
		v.Payee,
		v.AgreementID,
		v.Amount,
		v.Nonce,
		v.Expiry,
	)
	if err != nil {
		return common.Hash{}, errors.WithMessage(err, "encoding voucher")
	}
	return crypto.Keccak256Hash(enc), nil
}

// SigningBytes returns 0x19 0x01 ‖ domainSeparator ‖ hashStruct(voucher),
// the preimage whose keccak256 hash is signed.
func (v Voucher) SigningBytes(d Domain) ([]byte, error) {
	sep, err := d.Separator()
	if err != nil {
		return nil, err
	}
	sh, err := v.StructHash()
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 0, 2+2*common.HashLength)
	msg = append(msg, 0x19, 0x01)
	msg = append(msg, sep.Bytes()...)
	return append(msg, sh.Bytes()...), nil
}

// Digest returns the EIP-712 digest of the voucher under the domain.
func (v Voucher) Digest(d Domain) (common.Hash, error) {
	msg, err := v.SigningBytes(d)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(msg), nil
}

// Clone returns a deep copy of the voucher.
func (v Voucher) Clone() Voucher {
	return Voucher{
		Payer:       v.Payer,
		Payee:       v.Payee,
		AgreementID: cloneInt(v.AgreementID),
		Amount:      cloneInt(v.Amount),
		Nonce:       cloneInt(v.Nonce),
		Expiry:      cloneInt(v.Expiry),
	}
}

func checkUint256(i *big.Int) error {
	switch {
	case i == nil:
		return ErrMissingField
	case i.Sign() < 0:
		return ErrNegative
	case i.BitLen() > 256: //nolint:gomnd
		return ErrOverflow
	}
	return nil
}

func cloneInt(i *big.Int) *big.Int {
	if i == nil {
		return nil
	}
	return new(big.Int).Set(i)
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
