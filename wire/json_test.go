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

package wire_test

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"perun.network/perun-rentchannel-backend/wire"
)

func TestVoucherJSON(t *testing.T) {
	v := randomVoucher(t)
	sig := make([]byte, 65)
	sig[64] = 27

	blob, err := wire.EncodeVoucher(v, sig)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(blob, &fields))
	require.Len(t, fields, 7)
	require.Equal(t, v.Amount.String(), fields["amount"])
	require.Equal(t, v.Payer.Hex(), fields["payer"])

	decoded, err := wire.DecodeVoucher(blob)
	require.NoError(t, err)
	require.Equal(t, v.Payer, decoded.Payer)
	require.Equal(t, v.Payee, decoded.Payee)
	require.Zero(t, v.AgreementID.Cmp(decoded.AgreementID))
	require.Zero(t, v.Amount.Cmp(decoded.Amount))
	require.Zero(t, v.Nonce.Cmp(decoded.Nonce))
	require.Zero(t, v.Expiry.Cmp(decoded.Expiry))
	require.Equal(t, sig, decoded.Signature)
}

func TestVoucherJSONNumberForms(t *testing.T) {
	blob := `{
		"payer": "0x00000000000000000000000000000000000000a1",
		"payee": "0x00000000000000000000000000000000000000b2",
		"agreementId": 1,
		"amount": "600000000000000000",
		"nonce": "0x2",
		"expiry": 1700000600,
		"signature": "0x` + common.Bytes2Hex(make([]byte, 65)) + `"
	}`
	sv, err := wire.DecodeVoucher([]byte(blob))
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xa1"), sv.Payer)
	require.Zero(t, sv.AgreementID.Cmp(big.NewInt(1)))
	require.Equal(t, "600000000000000000", sv.Amount.String())
	require.Zero(t, sv.Nonce.Cmp(big.NewInt(2)))
	require.Zero(t, sv.Expiry.Cmp(big.NewInt(1700000600)))
}

func TestVoucherJSONRejects(t *testing.T) {
	sig := `"0x` + common.Bytes2Hex(make([]byte, 65)) + `"`
	cases := map[string]string{
		"missing nonce":  `{"payer":"0x00000000000000000000000000000000000000a1","payee":"0x00000000000000000000000000000000000000b2","agreementId":"1","amount":"1","expiry":"1","signature":` + sig + `}`,
		"missing payee":  `{"payer":"0x00000000000000000000000000000000000000a1","agreementId":"1","amount":"1","nonce":"1","expiry":"1","signature":` + sig + `}`,
		"negative":       `{"payer":"0x00000000000000000000000000000000000000a1","payee":"0x00000000000000000000000000000000000000b2","agreementId":"1","amount":"-1","nonce":"1","expiry":"1","signature":` + sig + `}`,
		"garbage amount": `{"payer":"0x00000000000000000000000000000000000000a1","payee":"0x00000000000000000000000000000000000000b2","agreementId":"1","amount":"ten","nonce":"1","expiry":"1","signature":` + sig + `}`,
		"no signature":   `{"payer":"0x00000000000000000000000000000000000000a1","payee":"0x00000000000000000000000000000000000000b2","agreementId":"1","amount":"1","nonce":"1","expiry":"1"}`,
		"unknown field":  `{"payer":"0x00000000000000000000000000000000000000a1","payee":"0x00000000000000000000000000000000000000b2","agreementId":"1","amount":"1","nonce":"1","expiry":"1","signature":` + sig + `,"extra":1}`,
		"not json":       `voucher`,
	}
	for name, blob := range cases {
		_, err := wire.DecodeVoucher([]byte(blob))
		require.Error(t, err, name)
	}
}

func TestParseUint(t *testing.T) {
	i, err := wire.ParseUint("0x10")
	require.NoError(t, err)
	require.Zero(t, i.Cmp(big.NewInt(16)))

	i, err = wire.ParseUint("010")
	require.NoError(t, err)
	require.Zero(t, i.Cmp(big.NewInt(10)))

	_, err = wire.ParseUint("")
	require.Error(t, err)
	_, err = wire.ParseUint("0x1" + strings.Repeat("0", 64))
	require.ErrorIs(t, err, wire.ErrOverflow)
}
