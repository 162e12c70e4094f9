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

	"perun.network/go-perun/wallet"

	"perun.network/perun-rentchannel-backend/wallet/types"
)

type backend struct {
	verifier Verifier
}

// Backend is the go-perun wallet backend for secp256k1 accounts.
var Backend = backend{verifier: ECDSAVerifier{}}

func init() {
	wallet.SetBackend(Backend)
}

func (b backend) NewAddress() wallet.Address {
	return &types.EthAddress{}
}

// DecodeSig decodes a signature of length SignatureLength from the reader.
func (b backend) DecodeSig(reader io.Reader) (wallet.Sig, error) {
	sig := make([]byte, SignatureLength)
	if _, err := io.ReadFull(reader, sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// VerifySignature reports whether sig over keccak256(msg) was produced by a.
func (b backend) VerifySignature(msg []byte, sig wallet.Sig, a wallet.Address) (bool, error) {
	addr, err := types.ToEthAddr(a)
	if err != nil {
		return false, err
	}
	if len(sig) != SignatureLength {
		return false, errors.New("invalid signature size")
	}
	signer, ok := b.verifier.Recover(msg, sig)
	return ok && signer == addr, nil
}
