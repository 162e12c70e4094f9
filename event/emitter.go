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

package event

import (
	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"
)

// LogEmitter logs every event at info level.
type LogEmitter struct {
	log.Embedding
}

// NewLogEmitter returns an emitter writing to the default logger.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{Embedding: log.MakeEmbedding(log.Default())}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(e Event) {
	entry := l.Log().WithField("agreement", e.AgreementID())
	switch ev := e.(type) {
	case *Opened:
		entry.WithField("payer", ev.Payer.Hex()).WithField("deposit", ev.Deposit).Info("channel opened")
	case *Deposited:
		entry.WithField("amount", ev.Amount).WithField("deposit", ev.Deposit).Info("channel topped up")
	case *Closed:
		entry.WithField("paid", ev.Paid).WithField("refunded", ev.Refunded).WithField("nonce", ev.Nonce).Info("channel closed")
	case *TimeoutClosed:
		entry.WithField("refunded", ev.Refunded).Info("channel closed after timeout")
	default:
		entry.Infof("%v event", e.Type())
	}
}

// Recorder keeps every emitted event in order.
type Recorder struct {
	mu     pkgsync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
