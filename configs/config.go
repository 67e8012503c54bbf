// Package configs loads the per-network YAML configuration that tells
// the bot which RPC endpoints, contract addresses and tuning
// parameters to run with.
package configs

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/driver"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/registry"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// Config is the entire configuration structure loaded from a network's
// config.yml (e.g. configs/networks/bsc.yml).
type Config struct {
	RPC            RPCYAMLData                       `yaml:"rpc"`
	ContractClient map[string]ContractClientYAMLData `yaml:"contract_client"`
	Driver         DriverYAMLData                     `yaml:"driver"`
}

// RPCYAMLData lists every node the RPC fabric should dial, plus which
// one (by index into Nodes) acts as the block-height sync reference.
type RPCYAMLData struct {
	Nodes       []string `yaml:"nodes"`
	SyncNodeIdx int      `yaml:"sync_node_index"`
}

// ContractClientYAMLData represents a single contract configuration.
type ContractClientYAMLData struct {
	Address string `yaml:"address"`
	ABI     string `yaml:"abi"`
}

// FactoryYAMLData configures one UniswapV2-style factory FetchNewPools
// and RefreshAll track pools against.
type FactoryYAMLData struct {
	Address string `yaml:"address"`
	Router  string `yaml:"router"`
	// FeeKind is one of "fixed", "pool" or "factory" — see
	// pkg/registry.FactorySpec.
	FeeKind  string `yaml:"fee_kind"`
	FixedFee uint16 `yaml:"fixed_fee"`
}

// DriverYAMLData configures the scan/submission pipeline.
type DriverYAMLData struct {
	WorkerCount        int    `yaml:"worker_count"`
	MaxHops            int    `yaml:"max_hops"`
	BlacklistAfter     int    `yaml:"blacklist_after"`
	MaxBurners         int    `yaml:"max_burners"`
	BaseGas            uint64 `yaml:"base_gas"`
	NetworkGasPrice    int64  `yaml:"network_gas_price_wei"`
	TierMidMultiplier  int64  `yaml:"tier_mid_multiplier"`
	TierHighMultiplier int64  `yaml:"tier_high_multiplier"`

	LowMultiplier        string `yaml:"low_multiplier"`
	MidMultiplier        string `yaml:"mid_multiplier"`
	HighMultiplier       string `yaml:"high_multiplier"`
	LowGasPriceThreshold string `yaml:"low_gas_price_threshold_wei"`
	MidGasPriceThreshold string `yaml:"mid_gas_price_threshold_wei"`
	MinGasPriceWei       string `yaml:"min_gas_price_wei"`
	MaxGasPriceWei       string `yaml:"max_gas_price_wei"`

	AcceptThreshold     int    `yaml:"accept_threshold"`
	FinalTxDeadlineMs   int    `yaml:"final_tx_deadline_ms"`
	MinProfitWei        string `yaml:"min_profit_wei"`
	LogRetentionBlocks  uint64 `yaml:"log_retention_blocks"`
	BurnersEnabled      bool   `yaml:"burners_enabled"`
	ReceiptTimeoutSec   int    `yaml:"receipt_timeout_sec"`
	PollIntervalMs      int    `yaml:"poll_interval_ms"`
	SyncPollIntervalMs  int    `yaml:"sync_poll_interval_ms"`
	RefreshIntervalSec  int    `yaml:"refresh_interval_sec"`
	UptimeIntervalSec   int    `yaml:"uptime_interval_sec"`
	PersistIntervalSec  int    `yaml:"persist_interval_sec"`
	StoreDir            string `yaml:"store_dir"`

	NativeToken  string   `yaml:"native_token"`
	SourceTokens []string `yaml:"source_tokens"`
	WethTokens   []string `yaml:"weth_tokens"`

	Factories               []FactoryYAMLData `yaml:"factories"`
	MaxBatchRetries         int                `yaml:"max_batch_retries"`
	ExcludeRecentPerFactory int                `yaml:"exclude_recent_per_factory"`
	MinPoolLiquidity        uint64             `yaml:"min_pool_liquidity"`

	BatchCheckerRouter string `yaml:"batch_checker_router"`
	BatchSize          int    `yaml:"batch_size"`
}

// LoadConfig reads and parses a network config file into a Config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("configs: parse config yaml: %w", err)
	}
	return &config, nil
}

func parseBigInt(field, value string, fallback *big.Int) (*big.Int, error) {
	if value == "" {
		return fallback, nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("configs: invalid %s %q", field, value)
	}
	return n, nil
}

func parseRat(field, value string, fallback *big.Rat) (*big.Rat, error) {
	if value == "" {
		return fallback, nil
	}
	r, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, fmt.Errorf("configs: invalid %s %q", field, value)
	}
	return r, nil
}

func feeKindFromYAML(kind string) (types.FeeKind, error) {
	switch kind {
	case "", "fixed":
		return types.FeeFixed, nil
	case "pool":
		return types.FeeFromPool, nil
	case "factory":
		return types.FeeFromFactory, nil
	default:
		return 0, fmt.Errorf("configs: unknown fee_kind %q", kind)
	}
}

// ToDriverConfig converts the YAML-loaded driver settings into the
// driver.Config the orchestrator actually runs with.
func (c *Config) ToDriverConfig() (driver.Config, error) {
	maxGasPrice, err := parseBigInt("max_gas_price_wei", c.Driver.MaxGasPriceWei, big.NewInt(0))
	if err != nil {
		return driver.Config{}, err
	}
	minGasPrice, err := parseBigInt("min_gas_price_wei", c.Driver.MinGasPriceWei, big.NewInt(0))
	if err != nil {
		return driver.Config{}, err
	}
	lowThreshold, err := parseBigInt("low_gas_price_threshold_wei", c.Driver.LowGasPriceThreshold, big.NewInt(0))
	if err != nil {
		return driver.Config{}, err
	}
	midThreshold, err := parseBigInt("mid_gas_price_threshold_wei", c.Driver.MidGasPriceThreshold, big.NewInt(0))
	if err != nil {
		return driver.Config{}, err
	}

	lowMul, err := parseRat("low_multiplier", c.Driver.LowMultiplier, big.NewRat(1, 1))
	if err != nil {
		return driver.Config{}, err
	}
	midMul, err := parseRat("mid_multiplier", c.Driver.MidMultiplier, big.NewRat(1, 1))
	if err != nil {
		return driver.Config{}, err
	}
	highMul, err := parseRat("high_multiplier", c.Driver.HighMultiplier, big.NewRat(1, 1))
	if err != nil {
		return driver.Config{}, err
	}

	minProfit, err := parseBigInt("min_profit_wei", c.Driver.MinProfitWei, big.NewInt(0))
	if err != nil {
		return driver.Config{}, err
	}

	sourceTokens := make([]common.Address, 0, len(c.Driver.SourceTokens))
	for _, t := range c.Driver.SourceTokens {
		sourceTokens = append(sourceTokens, common.HexToAddress(t))
	}
	weths := make([]common.Address, 0, len(c.Driver.WethTokens))
	for _, t := range c.Driver.WethTokens {
		weths = append(weths, common.HexToAddress(t))
	}

	factories := make([]registry.FactorySpec, 0, len(c.Driver.Factories))
	for _, f := range c.Driver.Factories {
		feeKind, err := feeKindFromYAML(f.FeeKind)
		if err != nil {
			return driver.Config{}, err
		}
		factories = append(factories, registry.FactorySpec{
			Address:  common.HexToAddress(f.Address),
			Router:   common.HexToAddress(f.Router),
			FeeKind:  feeKind,
			FixedFee: f.FixedFee,
		})
	}

	return driver.Config{
		WorkerCount:        c.Driver.WorkerCount,
		MaxHops:            c.Driver.MaxHops,
		BlacklistAfter:     c.Driver.BlacklistAfter,
		MaxBurners:         c.Driver.MaxBurners,
		BaseGas:            c.Driver.BaseGas,
		NetworkGasPrice:    c.Driver.NetworkGasPrice,
		TierMidMultiplier:  c.Driver.TierMidMultiplier,
		TierHighMultiplier: c.Driver.TierHighMultiplier,

		LowMultiplier:        lowMul,
		MidMultiplier:        midMul,
		HighMultiplier:       highMul,
		LowGasPriceThreshold: lowThreshold,
		MidGasPriceThreshold: midThreshold,
		MinGasPrice:          minGasPrice,
		MaxGasPrice:          maxGasPrice,

		AcceptThreshold:    c.Driver.AcceptThreshold,
		FinalTxDeadline:    time.Duration(c.Driver.FinalTxDeadlineMs) * time.Millisecond,
		MinProfit:          minProfit,
		LogRetentionBlocks: c.Driver.LogRetentionBlocks,
		BurnersEnabled:     c.Driver.BurnersEnabled,
		ReceiptTimeout:     time.Duration(c.Driver.ReceiptTimeoutSec) * time.Second,
		RefreshInterval:    time.Duration(c.Driver.RefreshIntervalSec) * time.Second,
		UptimeInterval:     time.Duration(c.Driver.UptimeIntervalSec) * time.Second,
		PersistInterval:    time.Duration(c.Driver.PersistIntervalSec) * time.Second,
		StoreDir:           c.Driver.StoreDir,

		NativeToken:  common.HexToAddress(c.Driver.NativeToken),
		SourceTokens: sourceTokens,
		Weths:        weths,

		Factories:               factories,
		MaxBatchRetries:         c.Driver.MaxBatchRetries,
		ExcludeRecentPerFactory: c.Driver.ExcludeRecentPerFactory,
		MinPoolLiquidity:        c.Driver.MinPoolLiquidity,

		BatchCheckerRouter: common.HexToAddress(c.Driver.BatchCheckerRouter),
		BatchSize:          c.Driver.BatchSize,
	}, nil
}
