package versions

import (
	"time"

	"gorm.io/gorm"
)

type alertDeliveryRetries struct {
	DeliveryAttempts int `gorm:"not null;default:0"`
	NextDeliveryAt   *time.Time
}

func (alertDeliveryRetries) TableName() string {
	return "alerts"
}

func Migration_3_alert_delivery_retries(txn *gorm.DB) error {
	for _, column := range []string{"DeliveryAttempts", "NextDeliveryAt"} {
		if txn.Migrator().HasColumn(&alertDeliveryRetries{}, column) {
			continue
		}
		if err := txn.Migrator().AddColumn(&alertDeliveryRetries{}, column); err != nil {
			return err
		}
	}
	return nil
}

func Rollback_3_alert_delivery_retries(txn *gorm.DB) error {
	for _, column := range []string{"NextDeliveryAt", "DeliveryAttempts"} {
		if !txn.Migrator().HasColumn(&alertDeliveryRetries{}, column) {
			continue
		}
		if err := txn.Migrator().DropColumn(&alertDeliveryRetries{}, column); err != nil {
			return err
		}
	}
	return nil
}
