package versions

import (
	"fmt"
	"log"

	"gorm.io/gorm"
)

type index struct {
	name    string
	table   string
	columns string
}

// Composite indexes for the hot lookups that gorm struct tags do not express:
// the duplicate request guard and the unread alert inbox.
var lookupIndexes = []index{
	{name: "idx_asset_requests_guard", table: "asset_requests", columns: "responder_id, referenced_asset_id, request_type"},
	{name: "idx_asset_requests_requester_open", table: "asset_requests", columns: "requester_id, accepted"},
	{name: "idx_alerts_inbox", table: "alerts", columns: "user_id, read, created_at"},
}

func Migration_1_lookup_indexes(txn *gorm.DB) error {
	log.Println("creating lookup indexes")

	for _, idx := range lookupIndexes {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %v ON %v (%v)", idx.name, idx.table, idx.columns)
		if err := txn.Exec(sql).Error; err != nil {
			return fmt.Errorf("error creating index %v: %w", idx.name, err)
		}
	}

	return nil
}

func Rollback_1_lookup_indexes(txn *gorm.DB) error {
	for _, idx := range lookupIndexes {
		if err := txn.Exec(fmt.Sprintf("DROP INDEX IF EXISTS %v", idx.name)).Error; err != nil {
			return fmt.Errorf("error dropping index %v: %w", idx.name, err)
		}
	}
	return nil
}
