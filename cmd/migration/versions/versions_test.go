package versions_test

import (
	"bms_platform/asset_bazaar/schema"
	"bms_platform/cmd/migration/versions"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "migration.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.AllModels()...))
	return db
}

func TestLookupIndexes(t *testing.T) {
	db := setupDb(t)

	require.NoError(t, versions.Migration_1_lookup_indexes(db))
	// Running twice is safe.
	require.NoError(t, versions.Migration_1_lookup_indexes(db))

	assert.True(t, db.Migrator().HasIndex("asset_requests", "idx_asset_requests_guard"))
	assert.True(t, db.Migrator().HasIndex("asset_requests", "idx_asset_requests_requester_open"))
	assert.True(t, db.Migrator().HasIndex("alerts", "idx_alerts_inbox"))

	require.NoError(t, versions.Rollback_1_lookup_indexes(db))
	assert.False(t, db.Migrator().HasIndex("asset_requests", "idx_asset_requests_guard"))
	assert.False(t, db.Migrator().HasIndex("alerts", "idx_alerts_inbox"))
}

func TestDefaultAvatars(t *testing.T) {
	db := setupDb(t)

	require.NoError(t, db.Create(&schema.User{Id: "1", Username: "no-avatar"}).Error)
	require.NoError(t, db.Create(&schema.User{Id: "2", Username: "has-avatar", AvatarUrl: "https://cdn.example.com/2.png"}).Error)

	require.NoError(t, versions.Migration_2_default_avatars(db))

	first, err := schema.GetUser("1", db)
	require.NoError(t, err)
	assert.Equal(t, schema.DefaultAvatarUrl("1"), first.AvatarUrl)

	second, err := schema.GetUser("2", db)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/2.png", second.AvatarUrl)
}

func TestAlertDeliveryRetries(t *testing.T) {
	db := setupDb(t)

	require.NoError(t, versions.Rollback_3_alert_delivery_retries(db))
	assert.False(t, db.Migrator().HasColumn(&schema.Alert{}, "delivery_attempts"))
	assert.False(t, db.Migrator().HasColumn(&schema.Alert{}, "next_delivery_at"))

	require.NoError(t, versions.Migration_3_alert_delivery_retries(db))
	require.NoError(t, versions.Migration_3_alert_delivery_retries(db))
	assert.True(t, db.Migrator().HasColumn(&schema.Alert{}, "delivery_attempts"))
	assert.True(t, db.Migrator().HasColumn(&schema.Alert{}, "next_delivery_at"))

	assetId := uint(1)
	alert := schema.Alert{UserId: "1", Type: schema.AlertAssetApproved, AssetId: &assetId, Header: "h", Message: "m"}
	require.NoError(t, db.Create(&alert).Error)
	assert.Equal(t, 0, alert.DeliveryAttempts)
}
