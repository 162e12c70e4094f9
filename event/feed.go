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
	"math/big"

	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"
)

// DefaultBufferSize is the number of events a subscription buffers before
// further events are dropped for it.
const DefaultBufferSize = 1024

// Feed is an Emitter that delivers events to subscriptions.
type Feed struct {
	log.Embedding

	mu   pkgsync.Mutex
	subs map[*Subscription]struct{}
}

// NewFeed returns a feed without subscribers.
func NewFeed() *Feed {
	return &Feed{
		Embedding: log.MakeEmbedding(log.Default()),
		subs:      make(map[*Subscription]struct{}),
	}
}

// Subscribe returns a subscription for events of the given agreement, or of
// all agreements if id is nil.
func (f *Feed) Subscribe(id *big.Int) *Subscription {
	s := &Subscription{
		feed:   f,
		events: make(chan Event, DefaultBufferSize),
		closer: new(pkgsync.Closer),
	}
	if id != nil {
		s.id = new(big.Int).Set(id)
	}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

// Emit implements Emitter. It never blocks.
func (f *Feed) Emit(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		if s.id != nil && s.id.Cmp(e.AgreementID()) != 0 {
			continue
		}
		select {
		case s.events <- e:
		default:
			f.Log().WithField("agreement", e.AgreementID()).Warnf("subscription full, dropping %v event", e.Type())
		}
	}
}

func (f *Feed) remove(s *Subscription) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

// Subscription receives events from a Feed.
type Subscription struct {
	feed   *Feed
	id     *big.Int
	events chan Event
	closer *pkgsync.Closer
}

// Next blocks until the next event arrives and returns nil once the
// subscription is closed.
func (s *Subscription) Next() Event {
	if s.closer.IsClosed() {
		return nil
	}
	select {
	case e := <-s.events:
		return e
	case <-s.closer.Closed():
		return nil
	}
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	if err := s.closer.Close(); err != nil {
		return err
	}
	s.feed.remove(s)
	return nil
}
