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
	"math"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout is the settlement window used by callers that do not pick
// one.
const DefaultTimeout = 24 * time.Hour

// MaxTimeout bounds the settlement window of a channel.
const MaxTimeout = 10 * 365 * 24 * time.Hour

// Deadline returns the absolute unix second at which a channel opened at now
// with the given timeout may be closed by timeout.
func Deadline(now time.Time, timeoutSec uint64) (uint64, error) {
	if timeoutSec > uint64(MaxTimeout/time.Second) {
		return 0, errors.WithMessagef(ErrInvalidTimeout, "%ds exceeds %v", timeoutSec, MaxTimeout)
	}
	start := unixNow(now)
	if start > math.MaxUint64-timeoutSec {
		return 0, errors.WithMessage(ErrInvalidTimeout, "deadline overflows")
	}
	return start + timeoutSec, nil
}

// TimeoutSeconds converts a duration to whole seconds, rounding up.
func TimeoutSeconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64((d + time.Second - 1) / time.Second)
}

// Expired reports whether a voucher expiry lies strictly before now.
func Expired(now time.Time, expiry *big.Int) bool {
	return new(big.Int).SetUint64(unixNow(now)).Cmp(expiry) > 0
}

// timedOut reports whether the deadline has been reached at now.
func timedOut(now time.Time, timeoutAt uint64) bool {
	return unixNow(now) >= timeoutAt
}

func unixNow(now time.Time) uint64 {
	s := now.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}
