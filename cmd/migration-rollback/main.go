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
	confirm := flag.Bool("confirm", false, "Required: acknowledges that all migrated relational data will be dropped")
	flag.Parse()

	if !*confirm {
		fmt.Fprintln(os.Stderr, "refusing to run without --confirm: this truncates the relational invoice tables")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.UseMetaStore(metastore.NewSQLStore(db))

	ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
	ctx = context.WithValue(ctx, utils.ContextKeyUserName, "MigrationRollback")

	logger := config.GetLogger()
	engine := migrate.NewEngine(models.MetaStore(), migrate.GormRepository{}, models.SettingsStore{}, logger)

	if err := engine.Rollback(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rollback failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("rollback complete: relational tables truncated, migrated markers cleared, status reset to pending")
}
