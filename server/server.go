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

// Package server exposes the settlement engine over HTTP so that payees can
// submit vouchers and anybody can inspect channels.
package server

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"perun.network/go-perun/log"

	"perun.network/perun-rentchannel-backend/channel"
	"perun.network/perun-rentchannel-backend/event"
	"perun.network/perun-rentchannel-backend/wallet/types"
	"perun.network/perun-rentchannel-backend/wire"
)

const (
	maxBodySize     = 1 << 16
	shutdownTimeout = 5 * time.Second
)

// Server serves the settlement relay.
type Server struct {
	log.Embedding

	engine   *channel.Engine
	gatherer prometheus.Gatherer
	feed     *event.Feed
}

// Option configures a Server.
type Option func(*Server)

// WithFeed streams the events of feed on /events.
func WithFeed(feed *event.Feed) Option {
	return func(s *Server) { s.feed = feed }
}

// New returns a server for engine. Metrics are served from gatherer if it is
// not nil.
func New(engine *channel.Engine, gatherer prometheus.Gatherer, opts ...Option) *Server {
	s := &Server{
		Embedding: log.MakeEmbedding(log.Default()),
		engine:    engine,
		gatherer:  gatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/domain", s.getDomain)
	r.Get("/channels/{id}", s.getChannel)
	r.Post("/channels/close", s.postClose)
	r.Post("/channels/{id}/timeout", s.postTimeout)
	r.Get("/nonces/{payer}/{id}", s.getNonce)
	r.Get("/balances/{addr}", s.getBalance)
	if s.feed != nil {
		r.Get("/events", s.getEvents)
	}
	return r
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.Log().WithField("addr", addr).Info("serving settlement relay")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log().WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.Status()).
			WithField("duration", time.Since(start)).
			Debug("handled request")
	})
}

type channelView struct {
	AgreementID *wire.Uint        `json:"agreementId"`
	Payer       *types.EthAddress `json:"payer"`
	Payee       *types.EthAddress `json:"payee"`
	Deposit     *wire.Uint        `json:"deposit"`
	Claimed     *wire.Uint        `json:"claimed"`
	Nonce       *wire.Uint        `json:"nonce"`
	TimeoutAt   uint64            `json:"timeoutAt"`
	Open        bool              `json:"open"`
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	d := s.engine.Domain()
	sep, err := d.Separator()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":        NewRequestID(),
		"name":              d.Name,
		"version":           d.Version,
		"chainId":           (*wire.Uint)(d.ChainID),
		"verifyingContract": d.VerifyingContract.Hex(),
		"separator":         sep.Hex(),
	})
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	ch, err := s.engine.Channel(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": NewRequestID(),
		"channel": channelView{
			AgreementID: (*wire.Uint)(id),
			Payer:       types.AsWalletAddr(ch.Payer),
			Payee:       types.AsWalletAddr(ch.Payee),
			Deposit:     (*wire.Uint)(ch.Deposit),
			Claimed:     (*wire.Uint)(ch.Claimed),
			Nonce:       (*wire.Uint)(ch.Nonce),
			TimeoutAt:   ch.TimeoutAt,
			Open:        ch.Open,
		},
	})
}

func (s *Server) postClose(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	sv, err := wire.DecodeVoucher(body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	payout, err := s.engine.Close(r.Context(), sv.Voucher, sv.Signature)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": NewRequestID(),
		"paid":       (*wire.Uint)(payout.Paid),
		"refunded":   (*wire.Uint)(payout.Refunded),
	})
}

func (s *Server) postTimeout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	refunded, err := s.engine.TimeoutClose(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": NewRequestID(),
		"refunded":   (*wire.Uint)(refunded),
	})
}

func (s *Server) getNonce(w http.ResponseWriter, r *http.Request) {
	payer, ok := parseAddress(w, chi.URLParam(r, "payer"))
	if !ok {
		return
	}
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	n, err := s.engine.LastNonce(r.Context(), payer, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": NewRequestID(),
		"lastNonce":  (*wire.Uint)(n),
	})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, chi.URLParam(r, "addr"))
	if !ok {
		return
	}
	b, err := s.engine.Balance(r.Context(), addr)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": NewRequestID(),
		"balance":    (*wire.Uint)(b),
	})
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	kind := channel.KindOf(err)
	status := StatusOf(kind)
	if status == http.StatusInternalServerError {
		s.Log().WithError(err).Error("request failed")
	}
	WriteError(w, status, ErrorCode(kind), err.Error())
}

// StatusOf maps an error kind to an HTTP status.
func StatusOf(k channel.Kind) int {
	switch k {
	case channel.KindAuthorization:
		return http.StatusForbidden
	case channel.KindStaleness, channel.KindState:
		return http.StatusConflict
	case channel.KindValue:
		return http.StatusUnprocessableEntity
	case channel.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the error envelope code of a kind.
func ErrorCode(k channel.Kind) string {
	switch k {
	case channel.KindAuthorization:
		return "UNAUTHORIZED"
	case channel.KindStaleness:
		return "STALE_VOUCHER"
	case channel.KindState:
		return "INVALID_STATE"
	case channel.KindValue:
		return "INVALID_VALUE"
	case channel.KindNotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

func parseID(w http.ResponseWriter, s string) (*big.Int, bool) {
	id, err := wire.ParseUint(s)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid agreement id: "+err.Error())
		return nil, false
	}
	return id, true
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	a, err := types.ParseAddress(s)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return common.Address{}, false
	}
	return types.AsEthAddr(a), true
}
