package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

const envVarPrefix = "PAYMENT_MONITOR"

func prefixEnvVars(name string) []string {
	return []string{envVarPrefix + "_" + name}
}

var (
	MigrationsFlag = &cli.StringFlag{
		Name:    "migrations-dir",
		Usage:   "Path to the migrations folder",
		EnvVars: prefixEnvVars("MIGRATIONS_DIR"),
		Value:   "./migrations",
	}
	NetworkFlag = &cli.StringFlag{
		Name:     "network",
		Usage:    "Bitcoin network to monitor (mainnet or testnet)",
		EnvVars:  prefixEnvVars("NETWORK"),
		Value:    "mainnet",
		Required: true,
	}
	IndexerEndpointFlag = &cli.StringFlag{
		Name:    "indexer-endpoint",
		Usage:   "Electrum indexer endpoint host:port, overrides the network default",
		EnvVars: prefixEnvVars("INDEXER_ENDPOINT"),
	}
	IndexerTLSFlag = &cli.BoolFlag{
		Name:    "indexer-tls",
		Usage:   "Connect to the indexer over TLS",
		EnvVars: prefixEnvVars("INDEXER_TLS"),
	}
	ReconnectDelayFlag = &cli.DurationFlag{
		Name:    "reconnect-delay",
		Usage:   "Delay before reconnecting a dropped indexer session",
		EnvVars: prefixEnvVars("RECONNECT_DELAY"),
		Value:   5 * time.Second,
	}
	PollIntervalFlag = &cli.DurationFlag{
		Name:    "poll-interval",
		Usage:   "Interval of the fallback poll sweep over watched addresses",
		EnvVars: prefixEnvVars("POLL_INTERVAL"),
		Value:   30 * time.Second,
	}
	ZeroConfThresholdFlag = &cli.Int64Flag{
		Name:    "zero-conf-threshold",
		Usage:   "Accept unconfirmed payments at or below this amount in satoshis",
		EnvVars: prefixEnvVars("ZERO_CONF_THRESHOLD"),
		Value:   5_000_000,
	}
	WebhookSecretFlag = &cli.StringFlag{
		Name:    "webhook-secret",
		Usage:   "Fallback HMAC secret for merchants without their own",
		EnvVars: prefixEnvVars("WEBHOOK_SECRET"),
	}
	WebhookMaxRetriesFlag = &cli.IntFlag{
		Name:    "webhook-max-retries",
		Usage:   "Maximum delivery attempts per webhook event",
		EnvVars: prefixEnvVars("WEBHOOK_MAX_RETRIES"),
		Value:   3,
	}
	WebhookRetryDelayFlag = &cli.DurationFlag{
		Name:    "webhook-retry-delay",
		Usage:   "Base delay of the webhook retry backoff",
		EnvVars: prefixEnvVars("WEBHOOK_RETRY_DELAY"),
		Value:   2 * time.Second,
	}
	WebhookTimeoutFlag = &cli.DurationFlag{
		Name:    "webhook-timeout",
		Usage:   "Per-attempt timeout of webhook POST requests",
		EnvVars: prefixEnvVars("WEBHOOK_TIMEOUT"),
		Value:   10 * time.Second,
	}
	RatesEndpointFlag = &cli.StringFlag{
		Name:    "rates-endpoint",
		Usage:   "Base URL of the USD rate source, empty disables rate recording",
		EnvVars: prefixEnvVars("RATES_ENDPOINT"),
	}
	RatesTTLFlag = &cli.DurationFlag{
		Name:    "rates-ttl",
		Usage:   "How long a fetched USD rate stays cached",
		EnvVars: prefixEnvVars("RATES_TTL"),
		Value:   time.Minute,
	}
	MasterDbHostFlag = &cli.StringFlag{
		Name:     "master-db-host",
		Usage:    "The host of the master database",
		EnvVars:  prefixEnvVars("MASTER_DB_HOST"),
		Required: true,
	}
	MasterDbPortFlag = &cli.IntFlag{
		Name:     "master-db-port",
		Usage:    "The port of the master database",
		EnvVars:  prefixEnvVars("MASTER_DB_PORT"),
		Required: true,
	}
	MasterDbUserFlag = &cli.StringFlag{
		Name:     "master-db-user",
		Usage:    "The user of the master database",
		EnvVars:  prefixEnvVars("MASTER_DB_USER"),
		Required: true,
	}
	MasterDbPasswordFlag = &cli.StringFlag{
		Name:     "master-db-password",
		Usage:    "The password of the master database",
		EnvVars:  prefixEnvVars("MASTER_DB_PASSWORD"),
		Required: true,
	}
	MasterDbNameFlag = &cli.StringFlag{
		Name:     "master-db-name",
		Usage:    "The name of the master database",
		EnvVars:  prefixEnvVars("MASTER_DB_NAME"),
		Required: true,
	}
)

var requiredFlags = []cli.Flag{
	NetworkFlag,
	MasterDbHostFlag,
	MasterDbPortFlag,
	MasterDbUserFlag,
	MasterDbPasswordFlag,
	MasterDbNameFlag,
}

var optionalFlags = []cli.Flag{
	MigrationsFlag,
	IndexerEndpointFlag,
	IndexerTLSFlag,
	ReconnectDelayFlag,
	PollIntervalFlag,
	ZeroConfThresholdFlag,
	WebhookSecretFlag,
	WebhookMaxRetriesFlag,
	WebhookRetryDelayFlag,
	WebhookTimeoutFlag,
	RatesEndpointFlag,
	RatesTTLFlag,
}

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}
