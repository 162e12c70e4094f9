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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"perun.network/perun-rentchannel-backend/channel"
	"perun.network/perun-rentchannel-backend/wallet"
	"perun.network/perun-rentchannel-backend/wallet/types"
	"perun.network/perun-rentchannel-backend/wire"
)

type channelOutput struct {
	AgreementID *wire.Uint        `json:"agreementId"`
	Payer       *types.EthAddress `json:"payer"`
	Payee       *types.EthAddress `json:"payee"`
	Deposit     *wire.Uint        `json:"deposit"`
	Claimed     *wire.Uint        `json:"claimed"`
	Nonce       *wire.Uint        `json:"nonce"`
	TimeoutAt   uint64            `json:"timeoutAt"`
	Open        bool              `json:"open"`
}

func (a *app) openCmd() *cobra.Command {
	var key, value string
	cmd := &cobra.Command{
		Use:   "open <agreement-id>",
		Short: "Open the channel of an agreement as its payer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wire.ParseUint(args[0])
			if err != nil {
				return err
			}
			call, err := callFrom(key, value)
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if !cmd.Flags().Changed("timeout") {
				timeout = a.cfg.TimeoutDefault
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.Open(cmd.Context(), call, id, channel.TimeoutSeconds(timeout)); err != nil {
				return describe(err)
			}
			return a.printChannel(cmd, id)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "hex private key of the payer")
	cmd.Flags().StringVar(&value, "value", "", "deposit in base units")
	cmd.Flags().Duration("timeout", channel.DefaultTimeout, "settlement window")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func (a *app) depositCmd() *cobra.Command {
	var key, value string
	cmd := &cobra.Command{
		Use:   "deposit <agreement-id>",
		Short: "Top up an open channel as its payer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wire.ParseUint(args[0])
			if err != nil {
				return err
			}
			call, err := callFrom(key, value)
			if err != nil {
				return err
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.DepositMore(cmd.Context(), call, id); err != nil {
				return describe(err)
			}
			return a.printChannel(cmd, id)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "hex private key of the payer")
	cmd.Flags().StringVar(&value, "value", "", "amount in base units")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func (a *app) closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <voucher.json|->",
		Short: "Settle a channel with a signed voucher.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := readVoucher(cmd, args[0])
			if err != nil {
				return err
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			payout, err := e.Close(cmd.Context(), sv.Voucher, sv.Signature)
			if err != nil {
				return describe(err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"paid":     (*wire.Uint)(payout.Paid),
				"refunded": (*wire.Uint)(payout.Refunded),
			})
		},
	}
}

func (a *app) timeoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeout <agreement-id>",
		Short: "Refund the deposit of a channel whose timeout has passed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wire.ParseUint(args[0])
			if err != nil {
				return err
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			refunded, err := e.TimeoutClose(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"refunded": (*wire.Uint)(refunded)})
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agreement-id>",
		Short: "Print the channel of an agreement.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wire.ParseUint(args[0])
			if err != nil {
				return err
			}
			return a.printChannel(cmd, id)
		},
	}
}

func (a *app) nonceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce <payer> <agreement-id>",
		Short: "Print the last settled voucher nonce of a payer.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payer, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			id, err := wire.ParseUint(args[1])
			if err != nil {
				return err
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			n, err := e.LastNonce(cmd.Context(), payer, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"lastNonce": (*wire.Uint)(n)})
		},
	}
}

func (a *app) creditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credit <address> <amount>",
		Short: "Fund a local account.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.Credit(cmd.Context(), addr, amount); err != nil {
				return describe(err)
			}
			return a.printBalance(cmd, addr)
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Print the custody balance of an account.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return a.printBalance(cmd, addr)
		},
	}
}

func (a *app) printChannel(cmd *cobra.Command, id *big.Int) error {
	e, err := a.engine(cmd.Context())
	if err != nil {
		return err
	}
	ch, err := e.Channel(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), channelOutput{
		AgreementID: (*wire.Uint)(id),
		Payer:       types.AsWalletAddr(ch.Payer),
		Payee:       types.AsWalletAddr(ch.Payee),
		Deposit:     (*wire.Uint)(ch.Deposit),
		Claimed:     (*wire.Uint)(ch.Claimed),
		Nonce:       (*wire.Uint)(ch.Nonce),
		TimeoutAt:   ch.TimeoutAt,
		Open:        ch.Open,
	})
}

func (a *app) printBalance(cmd *cobra.Command, addr common.Address) error {
	e, err := a.engine(cmd.Context())
	if err != nil {
		return err
	}
	b, err := e.Balance(cmd.Context(), addr)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"address": addr.Hex(),
		"balance": (*wire.Uint)(b),
	})
}

func callFrom(key, value string) (channel.Call, error) {
	acc, err := wallet.NewAccountFromHex(key)
	if err != nil {
		return channel.Call{}, err
	}
	amount, err := parseAmount(value)
	if err != nil {
		return channel.Call{}, err
	}
	return channel.Call{From: acc.EthAddress(), Value: amount}, nil
}

// describe prefixes settlement errors with a hint for the user.
func describe(err error) error {
	switch channel.KindOf(err) {
	case channel.KindAuthorization:
		return errors.WithMessage(err, "not authorized")
	case channel.KindStaleness:
		return errors.WithMessage(err, "voucher is stale, request a fresh one")
	case channel.KindState:
		return errors.WithMessage(err, "channel is in the wrong state")
	case channel.KindValue:
		return errors.WithMessage(err, "invalid amount")
	case channel.KindNotFound:
		return errors.WithMessage(err, "unknown agreement")
	default:
		return err
	}
}
