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

// Package channel implements the settlement engine of rent payment channels.
// A payer escrows a deposit for a rental agreement, hands out signed
// cumulative vouchers off-chain, and the best voucher is settled once via
// Close. If nobody settles before the deadline, TimeoutClose refunds the
// payer. Vouchers are replay protected by a per payer and agreement nonce
// watermark that survives reopening the channel.
package channel
