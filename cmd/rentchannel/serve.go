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

package main

import (
	"crypto/rand"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"perun.network/go-perun/log"

	"perun.network/perun-rentchannel-backend/channel"
	"perun.network/perun-rentchannel-backend/config"
	"perun.network/perun-rentchannel-backend/payment"
	"perun.network/perun-rentchannel-backend/server"
	"perun.network/perun-rentchannel-backend/wallet"
	"perun.network/perun-rentchannel-backend/wallet/types"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the settlement relay over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			return server.New(e, a.node.metrics.Registry(), server.WithFeed(a.node.feed)).ListenAndServe(ctx, a.cfg.Listen)
		},
	}
	cmd.Flags().String("listen", "", "listen address")
	_ = a.v.BindPFlag(config.KeyListen, cmd.Flags().Lookup("listen"))
	return cmd
}

const demoContract = "0x00000000000000000000000000000000000000e5"

// demoCmd runs a full rent session against a throwaway in-memory node.
func (a *app) demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run an in-memory rent session: mint, open, pay three periods and settle.",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.v.GetString(config.KeyContract) == "" {
				a.v.Set(config.KeyContract, demoContract)
			}
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := *a.cfg
			cfg.Datastore, cfg.RegistryRPC = "", ""
			n, err := openNode(ctx, &cfg)
			if err != nil {
				return err
			}
			a.node = n
			e := n.engine

			w := wallet.NewEphemeralWallet()
			tenant, err := w.AddNewAccount(rand.Reader)
			if err != nil {
				return err
			}
			landlord, err := w.AddNewAccount(rand.Reader)
			if err != nil {
				return err
			}
			unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
			rent := new(big.Int).Div(unit, big.NewInt(5))

			if err := e.Credit(ctx, tenant.EthAddress(), new(big.Int).Mul(unit, big.NewInt(10))); err != nil {
				return err
			}
			now := uint64(time.Now().Unix())
			id, err := n.minter.Mint(ctx, tenant.EthAddress(), landlord.EthAddress(), now, now+365*24*3600, rent, common.Hash{})
			if err != nil {
				return err
			}
			if err := e.Open(ctx, channel.Call{From: tenant.EthAddress(), Value: unit}, id, channel.TimeoutSeconds(cfg.TimeoutDefault)); err != nil {
				return err
			}

			tenantAcc, err := w.Unlock(types.AsWalletAddr(tenant.EthAddress()))
			if err != nil {
				return err
			}
			payer, err := payment.NewPayer(ctx, e, tenantAcc, e.Domain(), id)
			if err != nil {
				return err
			}
			payee, err := payment.NewPayee(ctx, e, landlord.EthAddress(), e.Domain(), id, wallet.ECDSAVerifier{})
			if err != nil {
				return err
			}
			expiry := uint64(time.Now().Add(time.Hour).Unix())
			for period := 1; period <= 3; period++ {
				sv, err := payer.Pay(rent, expiry)
				if err != nil {
					return err
				}
				if err := payee.Accept(sv); err != nil {
					return errors.WithMessagef(err, "period %d", period)
				}
				log.Infof("period %d paid, cumulative %v", period, payer.Paid())
			}

			payout, err := payee.Settle(ctx, e)
			if err != nil {
				return describe(err)
			}
			out := map[string]any{
				"agreementId": id.String(),
				"paid":        payout.Paid.String(),
				"refunded":    payout.Refunded.String(),
			}
			for name, addr := range map[string]common.Address{
				"tenant":   tenant.EthAddress(),
				"landlord": landlord.EthAddress(),
				"escrow":   e.Escrow(),
			} {
				bal, err := e.Balance(ctx, addr)
				if err != nil {
					return err
				}
				out[name] = bal.String()
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
