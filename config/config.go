package config

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/flags"
)

const (
	defaultMainnetIndexer = "electrum.blockstream.info:50001"
	defaultTestnetIndexer = "electrum.blockstream.info:60001"

	defaultReconnectDelay    = 5 * time.Second
	defaultPollInterval      = 30 * time.Second
	defaultWebhookMaxRetries = 3
	defaultWebhookRetryDelay = 2 * time.Second
	defaultWebhookTimeout    = 10 * time.Second
)

type Config struct {
	Migrations string
	Indexer    IndexerConfig
	Settlement SettlementConfig
	Webhook    WebhookConfig
	Rates      RatesConfig
	MasterDB   DBConfig
}

type IndexerConfig struct {
	Network        string
	Endpoint       string
	EnableTLS      bool
	ReconnectDelay time.Duration
	PollInterval   time.Duration
}

type SettlementConfig struct {
	ZeroConfThreshold int64
}

type WebhookConfig struct {
	Secret     string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type RatesConfig struct {
	Endpoint string
	TTL      time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// ChainParams maps the configured network onto btcd chain parameters,
// used for address validation.
func (c IndexerConfig) ChainParams() *chaincfg.Params {
	if c.Network == "testnet" {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

func LoadConfig(cliCtx *cli.Context) (Config, error) {
	cfg := NewConfig(cliCtx)

	if cfg.Indexer.Network != "mainnet" && cfg.Indexer.Network != "testnet" {
		return Config{}, fmt.Errorf("unknown network: %s", cfg.Indexer.Network)
	}
	if cfg.Indexer.Endpoint == "" {
		if cfg.Indexer.Network == "testnet" {
			cfg.Indexer.Endpoint = defaultTestnetIndexer
		} else {
			cfg.Indexer.Endpoint = defaultMainnetIndexer
		}
	}
	if cfg.Indexer.ReconnectDelay == 0 {
		cfg.Indexer.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Indexer.PollInterval == 0 {
		cfg.Indexer.PollInterval = defaultPollInterval
	}
	if cfg.Webhook.MaxRetries == 0 {
		cfg.Webhook.MaxRetries = defaultWebhookMaxRetries
	}
	// The attempt counter is persisted as a small integer column.
	if cfg.Webhook.MaxRetries < 1 || cfg.Webhook.MaxRetries > 255 {
		return Config{}, fmt.Errorf("webhook-max-retries must be between 1 and 255, got %d", cfg.Webhook.MaxRetries)
	}
	if cfg.Webhook.RetryDelay == 0 {
		cfg.Webhook.RetryDelay = defaultWebhookRetryDelay
	}
	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = defaultWebhookTimeout
	}

	log.Info("loaded indexer config", "network", cfg.Indexer.Network, "endpoint", cfg.Indexer.Endpoint)
	return cfg, nil
}

func NewConfig(ctx *cli.Context) Config {
	return Config{
		Migrations: ctx.String(flags.MigrationsFlag.Name),
		Indexer: IndexerConfig{
			Network:        ctx.String(flags.NetworkFlag.Name),
			Endpoint:       ctx.String(flags.IndexerEndpointFlag.Name),
			EnableTLS:      ctx.Bool(flags.IndexerTLSFlag.Name),
			ReconnectDelay: ctx.Duration(flags.ReconnectDelayFlag.Name),
			PollInterval:   ctx.Duration(flags.PollIntervalFlag.Name),
		},
		Settlement: SettlementConfig{
			ZeroConfThreshold: ctx.Int64(flags.ZeroConfThresholdFlag.Name),
		},
		Webhook: WebhookConfig{
			Secret:     ctx.String(flags.WebhookSecretFlag.Name),
			MaxRetries: ctx.Int(flags.WebhookMaxRetriesFlag.Name),
			RetryDelay: ctx.Duration(flags.WebhookRetryDelayFlag.Name),
			Timeout:    ctx.Duration(flags.WebhookTimeoutFlag.Name),
		},
		Rates: RatesConfig{
			Endpoint: ctx.String(flags.RatesEndpointFlag.Name),
			TTL:      ctx.Duration(flags.RatesTTLFlag.Name),
		},
		MasterDB: DBConfig{
			Host:     ctx.String(flags.MasterDbHostFlag.Name),
			Port:     ctx.Int(flags.MasterDbPortFlag.Name),
			Name:     ctx.String(flags.MasterDbNameFlag.Name),
			User:     ctx.String(flags.MasterDbUserFlag.Name),
			Password: ctx.String(flags.MasterDbPasswordFlag.Name),
		},
	}
}
