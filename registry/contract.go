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

package registry

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
)

// AgreementABI is the part of the agreement contract interface read by
// ContractRegistry.
const AgreementABI = `[{
	"inputs": [{"internalType": "uint256", "name": "tokenId", "type": "uint256"}],
	"name": "getTerms",
	"outputs": [{
		"components": [
			{"internalType": "address", "name": "landlord", "type": "address"},
			{"internalType": "address", "name": "tenant", "type": "address"},
			{"internalType": "uint64", "name": "start", "type": "uint64"},
			{"internalType": "uint64", "name": "end", "type": "uint64"},
			{"internalType": "uint256", "name": "rentPerPeriod", "type": "uint256"},
			{"internalType": "bytes32", "name": "termsHash", "type": "bytes32"}
		],
		"internalType": "struct RentalAgreementNFT.Terms",
		"name": "",
		"type": "tuple"
	}],
	"stateMutability": "view",
	"type": "function"
}]`

const getTermsMethod = "getTerms"

// Terms mirrors the tuple returned by getTerms.
type Terms struct {
	Landlord      common.Address
	Tenant        common.Address
	Start         uint64
	End           uint64
	RentPerPeriod *big.Int
	TermsHash     [32]byte
}

// ContractRegistry resolves agreements by calling getTerms on an agreement
// contract.
type ContractRegistry struct {
	log.Embedding

	caller   ethereum.ContractCaller
	contract common.Address
	abi      abi.ABI
}

// NewContractRegistry returns a registry reading from the agreement contract
// at addr.
func NewContractRegistry(caller ethereum.ContractCaller, addr common.Address) (*ContractRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(AgreementABI))
	if err != nil {
		return nil, errors.Wrap(err, "parsing agreement ABI")
	}
	return &ContractRegistry{
		Embedding: log.MakeEmbedding(log.Default()),
		caller:    caller,
		contract:  addr,
		abi:       parsed,
	}, nil
}

// Resolve implements Registry. A reverted call or a terms tuple without
// parties is reported as ErrNotFound.
func (r *ContractRegistry) Resolve(ctx context.Context, id *big.Int) (Agreement, error) {
	input, err := r.abi.Pack(getTermsMethod, id)
	if err != nil {
		return Agreement{}, errors.WithMessage(err, "packing getTerms call")
	}
	to := r.contract
	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		if isRevert(err) {
			return Agreement{}, errors.WithMessagef(ErrNotFound, "agreement %s: %v", id, err)
		}
		return Agreement{}, errors.WithMessagef(err, "calling getTerms(%s)", id)
	}
	if len(output) == 0 {
		return Agreement{}, errors.WithMessagef(ErrNotFound, "agreement %s: empty result", id)
	}
	values, err := r.abi.Unpack(getTermsMethod, output)
	if err != nil {
		return Agreement{}, errors.WithMessage(err, "unpacking getTerms result")
	}
	if len(values) != 1 {
		return Agreement{}, errors.Errorf("getTerms returned %d values", len(values))
	}
	terms := *abi.ConvertType(values[0], new(Terms)).(*Terms)

	a := Agreement{
		ID:            new(big.Int).Set(id),
		Payer:         terms.Tenant,
		Payee:         terms.Landlord,
		Start:         terms.Start,
		End:           terms.End,
		RentPerPeriod: terms.RentPerPeriod,
		TermsHash:     terms.TermsHash,
	}
	if !a.valid() {
		return Agreement{}, errors.WithMessagef(ErrNotFound, "agreement %s", id)
	}
	r.Log().WithField("agreement", id).Debug("resolved agreement from contract")
	return a, nil
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}
