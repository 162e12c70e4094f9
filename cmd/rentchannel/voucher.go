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
	"io"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	perunwallet "perun.network/go-perun/wallet"

	"perun.network/perun-rentchannel-backend/wallet"
	"perun.network/perun-rentchannel-backend/wallet/types"
	"perun.network/perun-rentchannel-backend/wire"
)

func (a *app) agreementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agreement",
		Short: "Manage locally registered rental agreements.",
	}

	var payer, payee, rent, termsHash string
	var start, end uint64
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Register a rental agreement and print its id.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.engine(cmd.Context()); err != nil {
				return err
			}
			if a.node.minter == nil {
				return errors.New("agreements are read from the registry contract")
			}
			payerAddr, err := parseAddress(payer)
			if err != nil {
				return err
			}
			payeeAddr, err := parseAddress(payee)
			if err != nil {
				return err
			}
			rentAmount, err := parseAmount(rent)
			if err != nil {
				return err
			}
			var hash common.Hash
			if termsHash != "" {
				b, err := hexutil.Decode(termsHash)
				if err != nil || len(b) != common.HashLength {
					return errors.Errorf("invalid terms hash %q", termsHash)
				}
				hash = common.BytesToHash(b)
			}
			if start == 0 {
				start = uint64(time.Now().Unix())
			}
			if end == 0 {
				end = start + uint64((365 * 24 * time.Hour).Seconds())
			}
			id, err := a.node.minter.Mint(cmd.Context(), payerAddr, payeeAddr, start, end, rentAmount, hash)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"agreementId": (*wire.Uint)(id)})
		},
	}
	mint.Flags().StringVar(&payer, "payer", "", "tenant address")
	mint.Flags().StringVar(&payee, "payee", "", "landlord address")
	mint.Flags().StringVar(&rent, "rent", "0", "rent per period in base units")
	mint.Flags().StringVar(&termsHash, "terms-hash", "", "0x-prefixed hash of the lease terms")
	mint.Flags().Uint64Var(&start, "start", 0, "start of the lease in unix seconds, now if 0")
	mint.Flags().Uint64Var(&end, "end", 0, "end of the lease in unix seconds, one year after start if 0")
	_ = mint.MarkFlagRequired("payer")
	_ = mint.MarkFlagRequired("payee")

	show := &cobra.Command{
		Use:   "show <agreement-id>",
		Short: "Print the terms of an agreement.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wire.ParseUint(args[0])
			if err != nil {
				return err
			}
			if _, err := a.engine(cmd.Context()); err != nil {
				return err
			}
			ag, err := a.node.registry.Resolve(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"agreementId":   (*wire.Uint)(ag.ID),
				"payer":         ag.Payer.Hex(),
				"payee":         ag.Payee.Hex(),
				"start":         ag.Start,
				"end":           ag.End,
				"rentPerPeriod": (*wire.Uint)(ag.RentPerPeriod),
				"termsHash":     ag.TermsHash.Hex(),
				"active":        ag.Active(uint64(time.Now().Unix())),
			})
		},
	}

	cmd.AddCommand(mint, show)
	return cmd
}

func (a *app) voucherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Sign and verify payment vouchers.",
	}

	var key, agreement, amount, nonce string
	var expiresIn time.Duration
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Sign a cumulative voucher for an open channel and print its JSON blob.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := wallet.NewAccountFromHex(key)
			if err != nil {
				return err
			}
			id, err := wire.ParseUint(agreement)
			if err != nil {
				return err
			}
			total, err := parseAmount(amount)
			if err != nil {
				return err
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			ch, err := e.Channel(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ch.Open {
				return errors.Errorf("channel of agreement %s is not open", id)
			}
			var n *big.Int
			if nonce != "" {
				if n, err = wire.ParseUint(nonce); err != nil {
					return err
				}
			} else {
				last, err := e.LastNonce(cmd.Context(), acc.EthAddress(), id)
				if err != nil {
					return err
				}
				n = last.Add(last, big.NewInt(1))
			}
			v := wire.Voucher{
				Payer:       acc.EthAddress(),
				Payee:       ch.Payee,
				AgreementID: id,
				Amount:      total,
				Nonce:       n,
				Expiry:      big.NewInt(time.Now().Add(expiresIn).Unix()),
			}
			sig, err := acc.SignVoucher(v, e.Domain())
			if err != nil {
				return err
			}
			blob, err := wire.EncodeVoucher(v, sig)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(blob, '\n'))
			return err
		},
	}
	sign.Flags().StringVar(&key, "key", "", "hex private key of the payer")
	sign.Flags().StringVar(&agreement, "agreement", "", "agreement id")
	sign.Flags().StringVar(&amount, "amount", "", "cumulative amount in base units")
	sign.Flags().StringVar(&nonce, "nonce", "", "voucher nonce, last settled nonce + 1 if empty")
	sign.Flags().DurationVar(&expiresIn, "expires-in", 10*time.Minute, "validity of the voucher")
	_ = sign.MarkFlagRequired("key")
	_ = sign.MarkFlagRequired("agreement")
	_ = sign.MarkFlagRequired("amount")

	verify := &cobra.Command{
		Use:   "verify <voucher.json|->",
		Short: "Check that a voucher is signed by its payer under the configured domain.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := readVoucher(cmd, args[0])
			if err != nil {
				return err
			}
			d := a.cfg.Domain()
			msg, err := sv.SigningBytes(d)
			if err != nil {
				return err
			}
			out := map[string]any{"valid": false}
			valid, err := perunwallet.VerifySignature(msg, sv.Signature, types.AsWalletAddr(sv.Payer))
			if err != nil {
				out["error"] = err.Error()
			} else {
				out["valid"] = valid
			}
			if signer, ok := (wallet.ECDSAVerifier{}).Recover(msg, sv.Signature); ok {
				out["signer"] = types.AsWalletAddr(signer)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.AddCommand(sign, verify)
	return cmd
}

func (a *app) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "account",
		Short:             "Manage local keys.",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Generate a random secp256k1 key.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := wallet.NewRandomAccount(rand.Reader)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"address":    acc.EthAddress().Hex(),
				"privateKey": acc.PrivateKeyHex(),
			})
		},
	})
	return cmd
}

func readVoucher(cmd *cobra.Command, path string) (wire.SignedVoucher, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return wire.SignedVoucher{}, errors.Wrap(err, "reading voucher")
	}
	return wire.DecodeVoucher(data)
}
