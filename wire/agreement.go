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
	xdr3 "github.com/stellar/go-xdr/xdr3"
)

// Agreement is the stored record of a locally registered rental agreement.
type Agreement struct {
	Payer         common.Address
	Payee         common.Address
	Start         uint64
	End           uint64
	RentPerPeriod *big.Int
	TermsHash     common.Hash
}

func (a Agreement) EncodeTo(e *xdr3.Encoder) error {
	if _, err := e.EncodeUint(recordVersion); err != nil {
		return err
	}
	if _, err := e.EncodeFixedOpaque(a.Payer.Bytes()); err != nil {
		return err
	}
	if _, err := e.EncodeFixedOpaque(a.Payee.Bytes()); err != nil {
		return err
	}
	if _, err := e.EncodeUhyper(a.Start); err != nil {
		return err
	}
	if _, err := e.EncodeUhyper(a.End); err != nil {
		return err
	}
	if err := encodeUint256(e, a.RentPerPeriod); err != nil {
		return err
	}
	_, err := e.EncodeFixedOpaque(a.TermsHash.Bytes())
	return err
}

func (a *Agreement) DecodeFrom(d *xdr3.Decoder) (int, error) {
	n, err := decodeVersion(d)
	if err != nil {
		return n, err
	}
	var parties [2][]byte
	for i := range parties {
		var m int
		parties[i], m, err = d.DecodeFixedOpaque(common.AddressLength)
		n += m
		if err != nil {
			return n, err
		}
	}
	start, m, err := d.DecodeUhyper()
	n += m
	if err != nil {
		return n, err
	}
	end, m, err := d.DecodeUhyper()
	n += m
	if err != nil {
		return n, err
	}
	rent, m, err := decodeUint256(d)
	n += m
	if err != nil {
		return n, err
	}
	hash, m, err := d.DecodeFixedOpaque(common.HashLength)
	n += m
	if err != nil {
		return n, err
	}
	a.Payer = common.BytesToAddress(parties[0])
	a.Payee = common.BytesToAddress(parties[1])
	a.Start, a.End = start, end
	a.RentPerPeriod = rent
	a.TermsHash = common.BytesToHash(hash)
	return n, nil
}

func (a Agreement) MarshalBinary() ([]byte, error) {
	buf := bytes.Buffer{}
	err := a.EncodeTo(xdr3.NewEncoder(&buf))
	return buf.Bytes(), err
}

func (a *Agreement) UnmarshalBinary(data []byte) error {
	_, err := a.DecodeFrom(xdr3.NewDecoder(bytes.NewReader(data)))
	return err
}
