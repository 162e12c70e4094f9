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

package channel

import (
	"github.com/pkg/errors"

	"perun.network/perun-rentchannel-backend/ledger"
	"perun.network/perun-rentchannel-backend/registry"
	"perun.network/perun-rentchannel-backend/wire"
)

var (
	ErrNotPayer      = errors.New("caller is not the payer")
	ErrBadSignature  = errors.New("voucher not signed by payer")
	ErrPartyMismatch = errors.New("voucher parties do not match channel")

	ErrExpired       = errors.New("voucher expired")
	ErrReplayedNonce = errors.New("voucher nonce already used")

	ErrNotOpen     = errors.New("channel not open")
	ErrAlreadyOpen = errors.New("channel already open")
	ErrTooEarly    = errors.New("timeout not reached yet")

	ErrZeroFunding      = errors.New("funding must be positive")
	ErrOverdraft        = errors.New("voucher amount exceeds deposit")
	ErrMalformedVoucher = errors.New("malformed voucher")
	ErrInvalidTimeout   = errors.New("invalid timeout")
	ErrInvalidAgreement = errors.New("invalid agreement id")
)

// Kind classifies settlement errors.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthorization: the caller or signer is not who the operation requires.
	KindAuthorization
	// KindStaleness: the voucher is no longer valid; ask for a fresh one.
	KindStaleness
	// KindState: the operation does not fit the channel's lifecycle state.
	KindState
	// KindValue: malformed or insufficient amounts.
	KindValue
	// KindNotFound: the agreement is unknown to the registry.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindStaleness:
		return "staleness"
	case KindState:
		return "state"
	case KindValue:
		return "value"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotPayer, KindAuthorization},
	{ErrBadSignature, KindAuthorization},
	{ErrPartyMismatch, KindAuthorization},
	{ErrExpired, KindStaleness},
	{ErrReplayedNonce, KindStaleness},
	{ErrNotOpen, KindState},
	{ErrAlreadyOpen, KindState},
	{ErrTooEarly, KindState},
	{ErrZeroFunding, KindValue},
	{ErrOverdraft, KindValue},
	{ErrMalformedVoucher, KindValue},
	{ErrInvalidTimeout, KindValue},
	{ErrInvalidAgreement, KindValue},
	{ledger.ErrInsufficientFunds, KindValue},
	{ledger.ErrNegativeAmount, KindValue},
	{wire.ErrMissingField, KindValue},
	{wire.ErrNegative, KindValue},
	{wire.ErrOverflow, KindValue},
	{registry.ErrNotFound, KindNotFound},
}

// KindOf returns the kind of a settlement error, or KindUnknown for nil and
// infrastructure errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
