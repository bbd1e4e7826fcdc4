package lifecycle_test

import (
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "lifecycle.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.AllModels()...))
	return db
}

func createUser(t *testing.T, db *gorm.DB, id string, roles ...schema.UserRole) schema.User {
	user := schema.User{
		Id:          id,
		Username:    "user-" + id,
		DisplayName: "User " + id,
		Roles:       roles,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

var fileCounter atomic.Int64

func nextFileHash() string {
	return fmt.Sprintf("%064x", fileCounter.Add(1))
}

func assetParams(name string) lifecycle.CreateAssetParams {
	return lifecycle.CreateAssetParams{
		Type:     "saber_saber",
		Name:     name,
		License:  "cc-by-4.0",
		Tags:     []string{"cute"},
		FileHash: nextFileHash(),
		FileSize: 1024,
	}
}

// createAsset uploads an asset and forces it into the given status.
func createAsset(t *testing.T, db *gorm.DB, uploader schema.User, status schema.Status) schema.Asset {
	asset, err := lifecycle.CreateAsset(db, uploader, assetParams("asset"))
	require.NoError(t, err)

	if status != schema.Private {
		asset, _, err = lifecycle.SetStatus(db, asset.Id, lifecycle.StatusChange{
			Status: status, Reason: "test setup", ActingUserId: "setup", Override: true,
		})
		require.NoError(t, err)
	}
	return asset
}

func reloadAsset(t *testing.T, db *gorm.DB, assetId uint) schema.Asset {
	asset, err := schema.GetAsset(assetId, db, true, false)
	require.NoError(t, err)
	return asset
}

func reloadRequest(t *testing.T, db *gorm.DB, requestId uint) schema.AssetRequest {
	request, err := schema.GetAssetRequest(requestId, db)
	require.NoError(t, err)
	return request
}

func alertsFor(t *testing.T, db *gorm.DB, userId string) []schema.Alert {
	alerts, err := lifecycle.ListAlerts(db, userId, lifecycle.AllAlerts)
	require.NoError(t, err)
	return alerts
}

func countAlerts(t *testing.T, db *gorm.DB) int64 {
	var count int64
	require.NoError(t, db.Model(&schema.Alert{}).Count(&count).Error)
	return count
}

func alertTypes(alerts []schema.Alert) []schema.AlertType {
	types := make([]schema.AlertType, 0, len(alerts))
	for _, alert := range alerts {
		types = append(types, alert.Type)
	}
	return types
}
