package database_test

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpay-labs/payment-monitor/config"
	"github.com/openpay-labs/payment-monitor/database"
	"github.com/openpay-labs/payment-monitor/database/dbtest"
)

func testDB(t *testing.T) *database.DB {
	host := os.Getenv("PAYMENT_MONITOR_TEST_DB_HOST")
	if host == "" {
		t.Skip("set PAYMENT_MONITOR_TEST_DB_HOST to run postgres store tests")
	}
	port, _ := strconv.Atoi(os.Getenv("PAYMENT_MONITOR_TEST_DB_PORT"))
	db, err := database.NewDB(context.Background(), config.DBConfig{
		Host:     host,
		Port:     port,
		Name:     os.Getenv("PAYMENT_MONITOR_TEST_DB_NAME"),
		User:     os.Getenv("PAYMENT_MONITOR_TEST_DB_USER"),
		Password: os.Getenv("PAYMENT_MONITOR_TEST_DB_PASSWORD"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.ExecuteSQLMigration("../migrations"))
	return db
}

func TestSettlementsStoreContract(t *testing.T) {
	db := testDB(t)
	dbtest.RunSettlementsContract(t, db.Settlements)
}
