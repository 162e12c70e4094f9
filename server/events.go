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

package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"perun.network/perun-rentchannel-backend/event"
	"perun.network/perun-rentchannel-backend/wire"
)

// getEvents streams settlement events as server-sent events until the client
// goes away. The optional agreement query parameter restricts the stream to
// one channel.
func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	var id *big.Int
	if q := r.URL.Query().Get("agreement"); q != "" {
		var ok bool
		if id, ok = parseID(w, q); !ok {
			return
		}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "streaming not supported")
		return
	}

	sub := s.feed.Subscribe(id)
	defer sub.Close() //nolint:errcheck
	go func() {
		<-r.Context().Done()
		sub.Close() //nolint:errcheck
	}()

	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := sub.Next(); e != nil; e = sub.Next() {
		data, err := json.Marshal(eventView(e))
		if err != nil {
			s.Log().WithError(err).Error("encoding event")
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type(), data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func eventView(e event.Event) map[string]any {
	v := map[string]any{
		"type":        e.Type().String(),
		"agreementId": (*wire.Uint)(e.AgreementID()),
	}
	switch e := e.(type) {
	case *event.Opened:
		v["payer"] = e.Payer.Hex()
		v["payee"] = e.Payee.Hex()
		v["deposit"] = (*wire.Uint)(e.Deposit)
		v["timeoutAt"] = e.TimeoutAt
	case *event.Deposited:
		v["payer"] = e.Payer.Hex()
		v["amount"] = (*wire.Uint)(e.Amount)
		v["deposit"] = (*wire.Uint)(e.Deposit)
	case *event.Closed:
		v["payer"] = e.Payer.Hex()
		v["payee"] = e.Payee.Hex()
		v["paid"] = (*wire.Uint)(e.Paid)
		v["refunded"] = (*wire.Uint)(e.Refunded)
		v["nonce"] = (*wire.Uint)(e.Nonce)
	case *event.TimeoutClosed:
		v["payer"] = e.Payer.Hex()
		v["refunded"] = (*wire.Uint)(e.Refunded)
	}
	return v
}
