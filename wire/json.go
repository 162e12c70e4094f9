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
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// SignedVoucher is a voucher together with the payer's signature. Its JSON
// form is the blob exchanged between payer and payee.
type SignedVoucher struct {
	Voucher
	Signature []byte
}

type jsonVoucher struct {
	Payer       *common.Address `json:"payer"`
	Payee       *common.Address `json:"payee"`
	AgreementID *Uint           `json:"agreementId"`
	Amount      *Uint           `json:"amount"`
	Nonce       *Uint           `json:"nonce"`
	Expiry      *Uint           `json:"expiry"`
	Signature   hexutil.Bytes   `json:"signature"`
}

// MarshalJSON encodes the voucher as {payer, payee, agreementId, amount,
// nonce, expiry, signature}. Integers are encoded as decimal strings.
func (s SignedVoucher) MarshalJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	payer, payee := s.Payer, s.Payee
	return json.Marshal(jsonVoucher{
		Payer:       &payer,
		Payee:       &payee,
		AgreementID: (*Uint)(s.AgreementID),
		Amount:      (*Uint)(s.Amount),
		Nonce:       (*Uint)(s.Nonce),
		Expiry:      (*Uint)(s.Expiry),
		Signature:   s.Signature,
	})
}

// UnmarshalJSON decodes a voucher blob. Every field is required.
func (s *SignedVoucher) UnmarshalJSON(data []byte) error {
	var jv jsonVoucher
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jv); err != nil {
		return errors.Wrap(err, "decoding voucher")
	}
	switch {
	case jv.Payer == nil:
		return errors.WithMessage(ErrMissingField, "payer")
	case jv.Payee == nil:
		return errors.WithMessage(ErrMissingField, "payee")
	case len(jv.Signature) == 0:
		return errors.WithMessage(ErrMissingField, "signature")
	}
	v := Voucher{
		Payer:       *jv.Payer,
		Payee:       *jv.Payee,
		AgreementID: jv.AgreementID.BigInt(),
		Amount:      jv.Amount.BigInt(),
		Nonce:       jv.Nonce.BigInt(),
		Expiry:      jv.Expiry.BigInt(),
	}
	if err := v.Validate(); err != nil {
		return err
	}
	s.Voucher = v
	s.Signature = []byte(jv.Signature)
	return nil
}

// EncodeVoucher returns the JSON blob of a signed voucher.
func EncodeVoucher(v Voucher, sig []byte) ([]byte, error) {
	return json.Marshal(SignedVoucher{Voucher: v, Signature: sig})
}

// DecodeVoucher parses a JSON voucher blob.
func DecodeVoucher(data []byte) (SignedVoucher, error) {
	var s SignedVoucher
	err := json.Unmarshal(data, &s)
	return s, err
}

// Uint is an unsigned big integer that is encoded as a decimal JSON string.
// Decoding also accepts JSON numbers and 0x-prefixed hex strings.
type Uint big.Int

// BigInt returns the value as *big.Int, nil if u is nil.
func (u *Uint) BigInt() *big.Int {
	if u == nil {
		return nil
	}
	return (*big.Int)(u)
}

// MarshalJSON implements json.Marshaler.
func (u *Uint) MarshalJSON() ([]byte, error) {
	if u == nil {
		return []byte("null"), nil
	}
	return json.Marshal((*big.Int)(u).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Uint) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	i, err := ParseUint(s)
	if err != nil {
		return err
	}
	(*big.Int)(u).Set(i)
	return nil
}

// ParseUint parses a decimal or 0x-prefixed hex unsigned integer of at most
// 256 bits.
func ParseUint(s string) (*big.Int, error) {
	var (
		i  *big.Int
		ok bool
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		i, ok = new(big.Int).SetString(s[2:], 16) //nolint:gomnd
	} else {
		i, ok = new(big.Int).SetString(s, 10) //nolint:gomnd
	}
	if !ok {
		return nil, errors.Errorf("invalid integer %q", s)
	}
	if err := checkUint256(i); err != nil {
		return nil, err
	}
	return i, nil
}
