package notify

import (
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils/logging"
	"context"
	"errors"
	"log/slog"
	"time"

	"go.uber.org/ratelimit"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 8
	defaultRetryDelay  = 30 * time.Second
	maxRetryDelay      = 6 * time.Hour
)

// Dispatcher delivers alerts to an external channel in the background. It
// never blocks the operations that create the alerts. Failed deliveries are
// retried with exponential backoff and dropped after maxAttempts.
type Dispatcher struct {
	db          *gorm.DB
	sender      Sender
	limiter     ratelimit.Limiter
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	stop        chan bool
}

func NewDispatcher(db *gorm.DB, sender Sender, perSecond, batchSize int) *Dispatcher {
	return &Dispatcher{
		db:          db,
		sender:      sender,
		limiter:     ratelimit.New(max(perSecond, 1), ratelimit.WithoutSlack),
		batchSize:   max(batchSize, 1),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		stop:        make(chan bool, 1),
	}
}

// WithRetry sets how often a failing alert is attempted and the delay before
// the first retry. The delay doubles after every further failure.
func (d *Dispatcher) WithRetry(maxAttempts int, retryDelay time.Duration) *Dispatcher {
	d.maxAttempts = max(maxAttempts, 1)
	d.retryDelay = max(retryDelay, 0)
	return d
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.retryDelay
	for i := 1; i < attempts && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (d *Dispatcher) markSent(alertId uint) error {
	result := d.db.Model(&schema.Alert{}).Where("id = ?", alertId).Update("external_delivery_sent", true)
	if result.Error != nil {
		slog.Error("alert delivery: sql error marking alert sent", "alert_id", alertId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

// recordFailure schedules the next attempt, or gives up on the alert once it
// has used all its attempts. It reports whether the alert was given up on.
func (d *Dispatcher) recordFailure(alert schema.Alert) (bool, error) {
	attempts := alert.DeliveryAttempts + 1
	if attempts >= d.maxAttempts {
		result := d.db.Model(&schema.Alert{}).Where("id = ?", alert.Id).
			Updates(map[string]interface{}{"delivery_attempts": attempts, "external_delivery_sent": true})
		if result.Error != nil {
			slog.Error("alert delivery: sql error giving up on alert", "alert_id", alert.Id, "error", result.Error)
			return false, schema.ErrDbAccessFailed
		}
		return true, nil
	}

	next := time.Now().UTC().Add(d.backoff(attempts))
	result := d.db.Model(&schema.Alert{}).Where("id = ?", alert.Id).
		Updates(map[string]interface{}{"delivery_attempts": attempts, "next_delivery_at": next})
	if result.Error != nil {
		slog.Error("alert delivery: sql error scheduling retry", "alert_id", alert.Id, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return false, nil
}

// DeliverPending sends one batch of alerts that are due. Alerts that have
// never been attempted go first, so retries cannot hold back new alerts. It
// returns how many alerts were delivered or found unreachable.
func (d *Dispatcher) DeliverPending(ctx context.Context) (int, error) {
	var alerts []schema.Alert
	result := d.db.
		Where("external_delivery_sent = ?", false).
		Where("next_delivery_at IS NULL OR next_delivery_at <= ?", time.Now().UTC()).
		Order("delivery_attempts ASC").
		Order("id ASC").
		Limit(d.batchSize).
		Find(&alerts)
	if result.Error != nil {
		slog.Error("alert delivery: sql error listing pending alerts", "error", result.Error)
		return 0, schema.ErrDbAccessFailed
	}

	sent := 0
	for _, alert := range alerts {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		d.limiter.Take()

		err := d.sender.Send(ctx, alert)
		if err != nil && !errors.Is(err, ErrUndeliverable) {
			gaveUp, ferr := d.recordFailure(alert)
			if ferr != nil {
				return sent, ferr
			}
			if gaveUp {
				slog.Warn("alert delivery: giving up", logging.Code(logging.ALERT_DELIVERY), "alert_id", alert.Id, "user_id", alert.UserId, "attempts", alert.DeliveryAttempts+1, "error", err)
			} else {
				slog.Warn("alert delivery: send failed, will retry", logging.Code(logging.ALERT_DELIVERY), "alert_id", alert.Id, "user_id", alert.UserId, "attempts", alert.DeliveryAttempts+1, "error", err)
			}
			continue
		}
		if err != nil {
			slog.Info("alert delivery: recipient unreachable, skipping", logging.Code(logging.ALERT_DELIVERY), "alert_id", alert.Id, "user_id", alert.UserId, "error", err)
		}

		if err := d.markSent(alert.Id); err != nil {
			return sent, err
		}
		sent++
	}

	return sent, nil
}

func (d *Dispatcher) Run(interval time.Duration) {
	slog.Info("alert delivery: starting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-ticker.C:
			if n, err := d.DeliverPending(ctx); err != nil {
				slog.Error("alert delivery: batch failed", "error", err)
			} else if n > 0 {
				slog.Info("alert delivery: batch delivered", logging.Code(logging.ALERT_DELIVERY), "count", n)
			}
		case <-d.stop:
			slog.Info("alert delivery: process stopped")
			return
		}
	}
}

func (d *Dispatcher) Stop() {
	close(d.stop)
}
