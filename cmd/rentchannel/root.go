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
	"context"
	"encoding/json"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	plogrus "perun.network/go-perun/log/logrus"

	"perun.network/perun-rentchannel-backend/channel"
	"perun.network/perun-rentchannel-backend/config"
	"perun.network/perun-rentchannel-backend/event"
	"perun.network/perun-rentchannel-backend/ledger"
	"perun.network/perun-rentchannel-backend/metrics"
	"perun.network/perun-rentchannel-backend/registry"
	"perun.network/perun-rentchannel-backend/wallet/types"
	"perun.network/perun-rentchannel-backend/wire"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	node    *node
}

// node is a settlement engine over the configured stores.
type node struct {
	ds       datastore.Batching
	ledger   *ledger.Ledger
	registry registry.Registry
	minter   *registry.StoreRegistry
	metrics  *metrics.Collector
	feed     *event.Feed
	engine   *channel.Engine
	eth      *ethclient.Client
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rentchannel",
		Short:         "Rent payment channel settlement node.",
		Long:          `Opens, funds and settles unidirectional rent payment channels secured by EIP-712 vouchers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file")
	flags.String("chain-id", "", "chain id of the signing domain")
	flags.String("contract", "", "settlement contract address, also the escrow account")
	flags.String("datastore", "", "badger directory, in-memory if empty")
	flags.String("log-level", "", "log level")
	for key, flag := range map[string]string{
		config.KeyChainID:   "chain-id",
		config.KeyContract:  "contract",
		config.KeyDatastore: "datastore",
		config.KeyLogLevel:  "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.openCmd(),
		a.depositCmd(),
		a.closeCmd(),
		a.timeoutCmd(),
		a.showCmd(),
		a.nonceCmd(),
		a.creditCmd(),
		a.balanceCmd(),
		a.agreementCmd(),
		a.voucherCmd(),
		a.accountCmd(),
		a.serveCmd(),
		a.demoCmd(),
	)
	return root
}

func (a *app) load() error {
	if a.cfgFile != "" {
		if err := config.ReadFile(a.v, a.cfgFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	plogrus.Set(cfg.LogLevel, &logrus.TextFormatter{})
	return nil
}

// engine opens the node on first use.
func (a *app) engine(ctx context.Context) (*channel.Engine, error) {
	if a.node != nil {
		return a.node.engine, nil
	}
	n, err := openNode(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.node = n
	return n.engine, nil
}

func (a *app) close() error {
	if a.node == nil {
		return nil
	}
	n := a.node
	a.node = nil
	return n.close()
}

func openNode(ctx context.Context, cfg *config.Config) (*node, error) {
	n := &node{
		metrics: metrics.NewCollector(""),
		feed:    event.NewFeed(),
	}
	if cfg.Datastore == "" {
		n.ds = dssync.MutexWrap(datastore.NewMapDatastore())
	} else {
		ds, err := ledger.OpenBadgerDatastore(cfg.Datastore)
		if err != nil {
			return nil, err
		}
		n.ds = ds
	}
	n.ledger = ledger.New(n.ds)

	if cfg.RegistryRPC != "" {
		eth, err := ethclient.DialContext(ctx, cfg.RegistryRPC)
		if err != nil {
			_ = n.ds.Close()
			return nil, errors.Wrapf(err, "dialing %s", cfg.RegistryRPC)
		}
		reg, err := registry.NewContractRegistry(eth, cfg.RegistryAddress)
		if err != nil {
			eth.Close()
			_ = n.ds.Close()
			return nil, err
		}
		n.eth = eth
		n.registry = reg
	} else {
		n.minter = registry.NewStoreRegistry(n.ds)
		n.registry = n.minter
	}

	n.engine = channel.NewEngine(n.ledger, n.registry, cfg.Domain(),
		channel.WithEmitter(event.Emitters{event.NewLogEmitter(), n.feed}),
		channel.WithMetrics(n.metrics),
	)
	open, err := n.engine.OpenChannels(ctx)
	if err != nil {
		_ = n.close()
		return nil, err
	}
	n.metrics.SetOpenChannels(open)
	return n, nil
}

func (n *node) close() error {
	if n.eth != nil {
		n.eth.Close()
	}
	return n.ledger.Close()
}

func parseAmount(s string) (*big.Int, error) {
	v, err := wire.ParseUint(s)
	if err != nil {
		return nil, errors.WithMessagef(err, "amount %q", s)
	}
	return v, nil
}

func parseAddress(s string) (common.Address, error) {
	a, err := types.ParseAddress(s)
	if err != nil {
		return common.Address{}, err
	}
	return types.AsEthAddr(a), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
