package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	payment_monitor "github.com/openpay-labs/payment-monitor"
	"github.com/openpay-labs/payment-monitor/common/cliapp"
	"github.com/openpay-labs/payment-monitor/common/opio"
	"github.com/openpay-labs/payment-monitor/config"
	"github.com/openpay-labs/payment-monitor/database"
	flags2 "github.com/openpay-labs/payment-monitor/flags"
)

func runMonitor(ctx *cli.Context, shutdown context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	log.Info("running payment monitor...")
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return nil, err
	}
	return payment_monitor.NewPaymentMonitor(ctx.Context, &cfg, shutdown)
}

func runMigrations(ctx *cli.Context) error {
	ctx.Context = opio.CancelOnInterrupt(ctx.Context)
	log.Info("running migrations...")
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}
	db, err := database.NewDB(ctx.Context, cfg.MasterDB)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return err
	}
	defer func(db *database.DB) {
		err := db.Close()
		if err != nil {
			log.Error("fail to close database", "err", err)
		}
	}(db)
	return db.ExecuteSQLMigration(cfg.Migrations)
}

func NewCli(GitCommit string, GitData string) *cli.App {
	flags := flags2.Flags
	return &cli.App{
		Version:              params.VersionWithCommit(GitCommit, GitData),
		Description:          "A merchant payment detection and settlement notification service",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:        "monitor",
				Flags:       flags,
				Description: "Run the payment detection and settlement notification service",
				Action:      cliapp.LifecycleCmd(runMonitor),
			},
			{
				Name:        "migrate",
				Flags:       flags,
				Description: "Run database migrations",
				Action:      runMigrations,
			},
			{
				Name:        "version",
				Description: "Show project version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}
