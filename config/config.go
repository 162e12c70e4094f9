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

// Package config loads the settlement node configuration.
package config

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"perun.network/perun-rentchannel-backend/wire"
)

// EnvPrefix prefixes environment overrides, e.g. RENTCHANNEL_CHAIN_ID.
const EnvPrefix = "RENTCHANNEL"

// Keys.
const (
	KeyChainID         = "chain_id"
	KeyContract        = "contract"
	KeyDatastore       = "datastore"
	KeyListen          = "listen"
	KeyLogLevel        = "log_level"
	KeyTimeoutDefault  = "timeout_default"
	KeyRegistryRPC     = "registry.rpc"
	KeyRegistryAddress = "registry.address"
)

// Config is the validated node configuration.
type Config struct {
	// ChainID and Contract form the voucher signing domain. Contract is also
	// the escrow account.
	ChainID  *big.Int
	Contract common.Address
	// Datastore is the badger directory; empty keeps the ledger in memory.
	Datastore      string
	Listen         string
	LogLevel       logrus.Level
	TimeoutDefault time.Duration
	// RegistryRPC and RegistryAddress select the agreement contract. Without
	// them agreements are minted locally.
	RegistryRPC     string
	RegistryAddress common.Address
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyChainID, "31337")
	v.SetDefault(KeyListen, "127.0.0.1:8545")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyTimeoutDefault, "24h")
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges the config file at path into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return errors.Wrapf(err, "reading config file %s", path)
	}
	return nil
}

// Load validates the settings of v.
func Load(v *viper.Viper) (*Config, error) {
	chainID, err := wire.ParseUint(v.GetString(KeyChainID))
	if err != nil {
		return nil, errors.WithMessage(err, KeyChainID)
	}
	if chainID.Sign() == 0 {
		return nil, errors.Errorf("%s must be positive", KeyChainID)
	}

	contract := v.GetString(KeyContract)
	if !common.IsHexAddress(contract) {
		return nil, errors.Errorf("%s: invalid address %q", KeyContract, contract)
	}

	level, err := logrus.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, errors.WithMessage(err, KeyLogLevel)
	}

	timeout := v.GetDuration(KeyTimeoutDefault)
	if timeout <= 0 {
		return nil, errors.Errorf("%s must be positive", KeyTimeoutDefault)
	}

	cfg := &Config{
		ChainID:        chainID,
		Contract:       common.HexToAddress(contract),
		Datastore:      v.GetString(KeyDatastore),
		Listen:         v.GetString(KeyListen),
		LogLevel:       level,
		TimeoutDefault: timeout,
		RegistryRPC:    v.GetString(KeyRegistryRPC),
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.Errorf("%s must not be the zero address", KeyContract)
	}
	if cfg.RegistryRPC != "" {
		addr := v.GetString(KeyRegistryAddress)
		if !common.IsHexAddress(addr) {
			return nil, errors.Errorf("%s: invalid address %q", KeyRegistryAddress, addr)
		}
		cfg.RegistryAddress = common.HexToAddress(addr)
	}
	return cfg, nil
}

// Domain returns the voucher signing domain.
func (c *Config) Domain() wire.Domain {
	return wire.DefaultDomain(c.ChainID, c.Contract)
}
