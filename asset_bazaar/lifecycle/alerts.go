package lifecycle

import (
	"bms_platform/asset_bazaar/schema"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// Notify persists an alert for the recipient. Asset alerts must reference an
// asset and request alerts a request, never both. Breaking that is a bug in
// the caller, so it panics instead of returning an error.
func Notify(txn *gorm.DB, recipientId string, alertType schema.AlertType, header, message string, assetId, requestId *uint) (schema.Alert, error) {
	if (assetId == nil) == (requestId == nil) {
		panic(fmt.Sprintf("alert %v must reference exactly one of an asset or a request", alertType))
	}
	if alertType.IsAssetAlert() != (assetId != nil) {
		panic(fmt.Sprintf("alert %v references the wrong kind of entity", alertType))
	}

	alert := schema.Alert{
		UserId:    recipientId,
		Type:      alertType,
		AssetId:   assetId,
		RequestId: requestId,
		Header:    header,
		Message:   message,
	}

	result := txn.Create(&alert)
	if result.Error != nil {
		slog.Error("sql error creating alert", "user_id", recipientId, "type", alertType, "error", result.Error)
		return alert, schema.ErrDbAccessFailed
	}

	return alert, nil
}

func notifyAsset(txn *gorm.DB, recipientId string, alertType schema.AlertType, assetId uint, header, message string) error {
	_, err := Notify(txn, recipientId, alertType, header, message, &assetId, nil)
	return err
}

func notifyRequest(txn *gorm.DB, recipientId string, alertType schema.AlertType, requestId uint, header, message string) error {
	_, err := Notify(txn, recipientId, alertType, header, message, nil, &requestId)
	return err
}

func getOwnAlert(txn *gorm.DB, actor schema.User, alertId uint) (schema.Alert, error) {
	alert, err := schema.GetAlert(alertId, txn)
	if err != nil {
		return alert, lookupError(err)
	}
	if alert.UserId != actor.Id {
		return alert, forbidden("alert %d does not belong to user %v", alertId, actor.Id)
	}
	return alert, nil
}

// MarkRead is idempotent.
func MarkRead(txn *gorm.DB, actor schema.User, alertId uint) (schema.Alert, error) {
	alert, err := getOwnAlert(txn, actor, alertId)
	if err != nil {
		return alert, err
	}
	if alert.Read {
		return alert, nil
	}

	result := txn.Model(&alert).Update("read", true)
	if result.Error != nil {
		slog.Error("sql error marking alert read", "alert_id", alertId, "error", result.Error)
		return alert, schema.ErrDbAccessFailed
	}

	return alert, nil
}

func DeleteAlert(txn *gorm.DB, actor schema.User, alertId uint) error {
	alert, err := getOwnAlert(txn, actor, alertId)
	if err != nil {
		return err
	}

	result := txn.Delete(&alert)
	if result.Error != nil {
		slog.Error("sql error deleting alert", "alert_id", alertId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	return nil
}

type ReadFilter string

const (
	AllAlerts    ReadFilter = "all"
	ReadAlerts   ReadFilter = "read"
	UnreadAlerts ReadFilter = "unread"
)

func ParseReadFilter(value string) (ReadFilter, error) {
	switch ReadFilter(value) {
	case "", AllAlerts:
		return AllAlerts, nil
	case ReadAlerts, UnreadAlerts:
		return ReadFilter(value), nil
	}
	return "", validationError("invalid read filter '%v', must be one of all, read, unread", value)
}

// ListAlerts returns the user's alerts newest first. No alerts is an empty,
// non-nil slice.
func ListAlerts(db *gorm.DB, userId string, filter ReadFilter) ([]schema.Alert, error) {
	query := db.Where("user_id = ?", userId)
	switch filter {
	case ReadAlerts:
		query = query.Where("read = ?", true)
	case UnreadAlerts:
		query = query.Where("read = ?", false)
	}

	alerts := make([]schema.Alert, 0)
	result := query.Order("created_at DESC").Order("id DESC").Find(&alerts)
	if result.Error != nil {
		slog.Error("sql error listing alerts", "user_id", userId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	return alerts, nil
}
