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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"perun.network/perun-rentchannel-backend/wire"
)

// SignatureLength is the length of a signature in bytes.
const SignatureLength = crypto.SignatureLength

// Verifier recovers the signer of msg from sig. It reports false for every
// signature it cannot attribute to a non-zero identity.
type Verifier interface {
	Recover(msg, sig []byte) (common.Address, bool)
}

// ECDSAVerifier recovers secp256k1 signatures over keccak256(msg).
type ECDSAVerifier struct{}

// Recover implements Verifier. Like the settlement contract, it only accepts
// the recovery ids 27 and 28 and rejects malleable (high s) signatures.
func (ECDSAVerifier) Recover(msg, sig []byte) (common.Address, bool) {
	if len(sig) != SignatureLength {
		return common.Address{}, false
	}
	v := sig[crypto.RecoveryIDOffset]
	if v != 27 && v != 28 { //nolint:gomnd
		return common.Address{}, false
	}
	v -= 27
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, false
	}
	norm := make([]byte, SignatureLength)
	copy(norm, sig)
	norm[crypto.RecoveryIDOffset] = v
	pub, err := crypto.SigToPub(crypto.Keccak256(msg), norm)
	if err != nil {
		return common.Address{}, false
	}
	addr := crypto.PubkeyToAddress(*pub)
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

// VerifyVoucher reports whether sig over v under domain d was produced by
// expected.
func VerifyVoucher(verifier Verifier, v wire.Voucher, d wire.Domain, sig []byte, expected common.Address) bool {
	if expected == (common.Address{}) {
		return false
	}
	msg, err := v.SigningBytes(d)
	if err != nil {
		return false
	}
	signer, ok := verifier.Recover(msg, sig)
	return ok && signer == expected
}
