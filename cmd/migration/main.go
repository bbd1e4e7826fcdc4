package main

import (
	"bms_platform/asset_bazaar/schema"
	"bms_platform/cmd/migration/versions"
	"bms_platform/utils"
	"flag"
	"log"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func main() {
	dbUri := flag.String("db_uri", "", "Database URI, or the sqlite file path when --dialect=sqlite")
	dialect := flag.String("dialect", "postgres", "Database dialect, postgres or sqlite")
	rollbackTo := flag.String("rollback_to", "", "If specified rolls back all migrations after the given id instead of migrating")
	flag.Parse()

	if *dbUri == "" {
		log.Fatalf("Missing --db_uri arg")
	}

	db, err := utils.OpenDb(*dialect, *dbUri)
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	migration := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// Represents the schema created by InitSchema on a clean database.
			ID:      "0",
			Migrate: func(*gorm.DB) error { return nil },
		},
		{
			ID:       "1",
			Migrate:  versions.Migration_1_lookup_indexes,
			Rollback: versions.Rollback_1_lookup_indexes,
		},
		{
			ID:      "2",
			Migrate: versions.Migration_2_default_avatars,
			// Rollback is a no-op, a default avatar is indistinguishable from
			// one set at account creation.
			Rollback: func(*gorm.DB) error { return nil },
		},
		{
			ID:       "3",
			Migrate:  versions.Migration_3_alert_delivery_retries,
			Rollback: versions.Rollback_3_alert_delivery_retries,
		},
	})

	migration.InitSchema(func(txn *gorm.DB) error {
		log.Println("clean database detected, running full schema initialization")

		if err := txn.AutoMigrate(schema.AllModels()...); err != nil {
			return err
		}
		return versions.Migration_1_lookup_indexes(txn)
	})

	if *rollbackTo != "" {
		if err := migration.RollbackTo(*rollbackTo); err != nil {
			log.Fatalf("rollback failed: %v", err)
		}
		log.Printf("rolled back to migration %v", *rollbackTo)
		return
	}

	if err := migration.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migration completed successfully")
}
