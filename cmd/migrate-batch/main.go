package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
	"bitbucket.org/mmdatafocus/invoice_bridge/migrate"
	"bitbucket.org/mmdatafocus/invoice_bridge/models"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
)

func main() {
	batchSize := flag.Int("batch-size", migrate.DefaultBatchSize, "Invoices migrated per batch")
	maxBatches := flag.Int("max-batches", 0, "Stop after this many batches (0 = run to completion)")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	store := metastore.NewSQLStore(db)
	models.UseMetaStore(store)

	if err := store.EnsureTables(); err != nil {
		fmt.Fprintf(os.Stderr, "host record table setup failed: %v\n", err)
		os.Exit(1)
	}
	if err := models.ReconcileSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "schema reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
	ctx = context.WithValue(ctx, utils.ContextKeyUserName, "MigrateBatch")

	logger := config.GetLogger()
	engine := migrate.NewEngine(models.MetaStore(), migrate.GormRepository{}, models.SettingsStore{}, logger)

	for batch := 1; ; batch++ {
		result, err := engine.RunBatch(ctx, *batchSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "batch %d failed: %v\n", batch, err)
			os.Exit(1)
		}
		fmt.Printf("batch %d: migrated=%d errors=%d remaining=%d (%.2f%%)\n",
			batch, result.MigratedCount, result.ErrorCount, result.Progress.Remaining, result.Progress.Percentage)
		for _, entityErr := range result.Errors {
			fmt.Printf("  host record %d [%s]: %s\n", entityErr.EntityId, entityErr.Kind, entityErr.Message)
		}
		if result.Completed {
			fmt.Println("migration completed")
			return
		}
		if *maxBatches > 0 && batch >= *maxBatches {
			fmt.Printf("stopping after %d batches; %d invoices remaining\n", batch, result.Progress.Remaining)
			return
		}
		if result.MigratedCount == 0 && result.ErrorCount > 0 {
			fmt.Fprintln(os.Stderr, "no progress in last batch; fix the reported records and rerun")
			os.Exit(1)
		}
	}
}
