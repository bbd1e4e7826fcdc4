package schema

import (
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrRequestNotFound = errors.New("request not found")
	ErrAlertNotFound   = errors.New("alert not found")
	ErrDbAccessFailed  = errors.New("db access failed")
)

func GetUser(userId string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetAsset(assetId uint, db *gorm.DB, loadLinks, loadUploader bool) (Asset, error) {
	if loadLinks {
		db = db.Preload("Links").Preload("InverseLinks")
	}
	if loadUploader {
		db = db.Preload("Uploader")
	}

	var asset Asset
	result := db.First(&asset, "id = ?", assetId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return asset, ErrAssetNotFound
		}
		slog.Error("sql error in get asset", "asset_id", assetId, "error", result.Error)
		return asset, ErrDbAccessFailed
	}

	return asset, nil
}

// GetAssetForUpdate takes a row lock on the asset for the rest of the
// transaction. Drivers without row locks (sqlite) serialize writers instead.
func GetAssetForUpdate(assetId uint, txn *gorm.DB) (Asset, error) {
	var asset Asset
	result := txn.Clauses(clause.Locking{Strength: "UPDATE"}).First(&asset, "id = ?", assetId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return asset, ErrAssetNotFound
		}
		slog.Error("sql error locking asset", "asset_id", assetId, "error", result.Error)
		return asset, ErrDbAccessFailed
	}

	return asset, nil
}

func GetAssetRequest(requestId uint, db *gorm.DB) (AssetRequest, error) {
	var request AssetRequest

	result := db.First(&request, "id = ?", requestId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return request, ErrRequestNotFound
		}
		slog.Error("sql error in get request", "request_id", requestId, "error", result.Error)
		return request, ErrDbAccessFailed
	}

	return request, nil
}

func GetAssetRequestForUpdate(requestId uint, txn *gorm.DB) (AssetRequest, error) {
	return GetAssetRequest(requestId, txn.Clauses(clause.Locking{Strength: "UPDATE"}))
}

func GetAlert(alertId uint, db *gorm.DB) (Alert, error) {
	var alert Alert

	result := db.First(&alert, "id = ?", alertId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return alert, ErrAlertNotFound
		}
		slog.Error("sql error in get alert", "alert_id", alertId, "error", result.Error)
		return alert, ErrDbAccessFailed
	}

	return alert, nil
}
