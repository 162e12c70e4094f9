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
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	xdr3 "github.com/stellar/go-xdr/xdr3"
)

// recordVersion prefixes every encoded record.
const recordVersion uint32 = 1

const uint256Len = 32

var ErrRecordVersion = errors.New("unsupported record version")

// Channel is the ledger record of the channel of one agreement.
type Channel struct {
	Payer     common.Address
	Payee     common.Address
	Deposit   *big.Int
	Claimed   *big.Int
	Nonce     *big.Int
	TimeoutAt uint64
	Open      bool
}

// NewChannel returns a closed channel record with zero amounts.
func NewChannel() Channel {
	return Channel{
		Deposit: new(big.Int),
		Claimed: new(big.Int),
		Nonce:   new(big.Int),
	}
}

// Clone returns a deep copy of the record.
func (c Channel) Clone() Channel {
	c.Deposit = cloneInt(c.Deposit)
	c.Claimed = cloneInt(c.Claimed)
	c.Nonce = cloneInt(c.Nonce)
	return c
}

func (c Channel) EncodeTo(e *xdr3.Encoder) error {
	if _, err := e.EncodeUint(recordVersion); err != nil {
		return err
	}
	if _, err := e.EncodeFixedOpaque(c.Payer.Bytes()); err != nil {
		return err
	}
	if _, err := e.EncodeFixedOpaque(c.Payee.Bytes()); err != nil {
		return err
	}
	for _, i := range []*big.Int{c.Deposit, c.Claimed, c.Nonce} {
		if err := encodeUint256(e, i); err != nil {
			return err
		}
	}
	if _, err := e.EncodeUhyper(c.TimeoutAt); err != nil {
		return err
	}
	_, err := e.EncodeBool(c.Open)
	return err
}

func (c *Channel) DecodeFrom(d *xdr3.Decoder) (int, error) {
	n, err := decodeVersion(d)
	if err != nil {
		return n, err
	}
	payer, m, err := d.DecodeFixedOpaque(common.AddressLength)
	n += m
	if err != nil {
		return n, err
	}
	payee, m, err := d.DecodeFixedOpaque(common.AddressLength)
	n += m
	if err != nil {
		return n, err
	}
	ints := make([]*big.Int, 3) //nolint:gomnd
	for i := range ints {
		ints[i], m, err = decodeUint256(d)
		n += m
		if err != nil {
			return n, err
		}
	}
	timeoutAt, m, err := d.DecodeUhyper()
	n += m
	if err != nil {
		return n, err
	}
	open, m, err := d.DecodeBool()
	n += m
	if err != nil {
		return n, err
	}
	c.Payer = common.BytesToAddress(payer)
	c.Payee = common.BytesToAddress(payee)
	c.Deposit, c.Claimed, c.Nonce = ints[0], ints[1], ints[2]
	c.TimeoutAt = timeoutAt
	c.Open = open
	return n, nil
}

func (c Channel) MarshalBinary() ([]byte, error) {
	buf := bytes.Buffer{}
	e := xdr3.NewEncoder(&buf)
	err := c.EncodeTo(e)
	return buf.Bytes(), err
}

func (c *Channel) UnmarshalBinary(data []byte) error {
	d := xdr3.NewDecoder(bytes.NewReader(data))
	_, err := c.DecodeFrom(d)
	return err
}

// Amount is the ledger record of a single uint256 value. It stores custody
// balances and nonce watermarks.
type Amount struct {
	Value *big.Int
}

func (a Amount) EncodeTo(e *xdr3.Encoder) error {
	if _, err := e.EncodeUint(recordVersion); err != nil {
		return err
	}
	return encodeUint256(e, a.Value)
}

func (a *Amount) DecodeFrom(d *xdr3.Decoder) (int, error) {
	n, err := decodeVersion(d)
	if err != nil {
		return n, err
	}
	v, m, err := decodeUint256(d)
	n += m
	if err != nil {
		return n, err
	}
	a.Value = v
	return n, nil
}

func (a Amount) MarshalBinary() ([]byte, error) {
	buf := bytes.Buffer{}
	e := xdr3.NewEncoder(&buf)
	err := a.EncodeTo(e)
	return buf.Bytes(), err
}

func (a *Amount) UnmarshalBinary(data []byte) error {
	d := xdr3.NewDecoder(bytes.NewReader(data))
	_, err := a.DecodeFrom(d)
	return err
}

func decodeVersion(d *xdr3.Decoder) (int, error) {
	v, n, err := d.DecodeUint()
	if err != nil {
		return n, err
	}
	if v != recordVersion {
		return n, errors.WithMessagef(ErrRecordVersion, "got %d", v)
	}
	return n, nil
}

// encodeUint256 writes i as 32 byte big-endian fixed opaque. A nil value is
// encoded as zero.
func encodeUint256(e *xdr3.Encoder, i *big.Int) error {
	b := make([]byte, uint256Len)
	if i != nil {
		if err := checkUint256(i); err != nil {
			return err
		}
		i.FillBytes(b)
	}
	_, err := e.EncodeFixedOpaque(b)
	return err
}

func decodeUint256(d *xdr3.Decoder) (*big.Int, int, error) {
	b, n, err := d.DecodeFixedOpaque(uint256Len)
	if err != nil {
		return nil, n, err
	}
	return new(big.Int).SetBytes(b), n, nil
}
