// Package service holds the persistence side services. The in-memory order
// store is authoritative for live trading; the archive keeps terminal
// orders in MySQL for history queries beyond the in-memory retention
// window.
package service

import (
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/metrics"
	"github.com/apexhq/apex/pkg/types"
)

var log = logrus.WithField("service", "order_archive")

const createOrdersTable = `CREATE TABLE IF NOT EXISTS orders (
	order_id         VARCHAR(64)    NOT NULL,
	client_order_id  VARCHAR(64)    NOT NULL DEFAULT '',
	symbol           VARCHAR(16)    NOT NULL,
	side             VARCHAR(8)     NOT NULL,
	order_type       VARCHAR(16)    NOT NULL,
	quantity         DOUBLE         NOT NULL,
	limit_price      DOUBLE         NOT NULL DEFAULT 0,
	stop_price       DOUBLE         NOT NULL DEFAULT 0,
	time_in_force    VARCHAR(8)     NOT NULL DEFAULT 'day',
	extended_hours   BOOLEAN        NOT NULL DEFAULT FALSE,
	trail_price      DOUBLE         NOT NULL DEFAULT 0,
	trail_percent    DOUBLE         NOT NULL DEFAULT 0,
	broker_order_id  VARCHAR(64)    NOT NULL DEFAULT '',
	broker           VARCHAR(16)    NOT NULL,
	user_id          VARCHAR(64)    NOT NULL,
	status           VARCHAR(24)    NOT NULL,
	filled_quantity  DOUBLE         NOT NULL DEFAULT 0,
	filled_avg_price DOUBLE         NOT NULL DEFAULT 0,
	reject_reason    VARCHAR(255)   NOT NULL DEFAULT '',
	created_at       DATETIME(3)    NOT NULL,
	updated_at       DATETIME(3)    NOT NULL,
	PRIMARY KEY (order_id),
	KEY idx_orders_user (user_id, created_at)
)`

type OrderArchiveService struct {
	DB *sqlx.DB
}

func NewOrderArchiveService(db *sqlx.DB) *OrderArchiveService {
	return &OrderArchiveService{DB: db}
}

// Migrate creates the archive schema.
func (s *OrderArchiveService) Migrate() error {
	_, err := s.DB.Exec(createOrdersTable)
	return errors.Wrap(err, "failed to create orders table")
}

// Archive upserts a terminal order. Non-terminal orders are skipped; they
// still live in memory and will come back here once they finish.
func (s *OrderArchiveService) Archive(order types.Order) error {
	if !order.Status.Terminal() {
		return nil
	}

	_, err := s.DB.NamedExec(`
		INSERT INTO orders (
			order_id, client_order_id, symbol, side, order_type,
			quantity, limit_price, stop_price, time_in_force, extended_hours,
			trail_price, trail_percent, broker_order_id, broker, user_id,
			status, filled_quantity, filled_avg_price, reject_reason,
			created_at, updated_at
		) VALUES (
			:order_id, :client_order_id, :symbol, :side, :order_type,
			:quantity, :limit_price, :stop_price, :time_in_force, :extended_hours,
			:trail_price, :trail_percent, :broker_order_id, :broker, :user_id,
			:status, :filled_quantity, :filled_avg_price, :reject_reason,
			:created_at, :updated_at
		) ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			filled_quantity = VALUES(filled_quantity),
			filled_avg_price = VALUES(filled_avg_price),
			reject_reason = VALUES(reject_reason),
			updated_at = VALUES(updated_at)`,
		order)
	if err != nil {
		return errors.Wrapf(err, "failed to archive order %s", order.OrderID)
	}

	metrics.OrdersArchivedMetrics.Inc()
	return nil
}

// Query returns the user's archived orders, newest first.
func (s *OrderArchiveService) Query(userID string, limit int) ([]types.Order, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.DB.NamedQuery(`
		SELECT * FROM orders
		WHERE user_id = :user_id
		ORDER BY created_at DESC
		LIMIT `+strconv.Itoa(limit),
		map[string]interface{}{"user_id": userID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query archived orders")
	}
	defer rows.Close()

	var orders []types.Order
	for rows.Next() {
		var order types.Order
		if err := rows.StructScan(&order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

// Purge deletes archived orders older than the cutoff and returns the
// number of rows removed.
func (s *OrderArchiveService) Purge(before time.Time) (int64, error) {
	result, err := s.DB.Exec(`DELETE FROM orders WHERE updated_at < ?`, before)
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge archived orders")
	}

	return result.RowsAffected()
}

// ScheduleRetention registers a daily purge of rows older than the
// retention window on the given cron scheduler.
func (s *OrderArchiveService) ScheduleRetention(c *cron.Cron, retention time.Duration) error {
	_, err := c.AddFunc("@daily", func() {
		purged, err := s.Purge(time.Now().Add(-retention))
		if err != nil {
			log.WithError(err).Error("retention purge failed")
			return
		}
		if purged > 0 {
			log.Infof("retention purged %d archived orders", purged)
		}
	})
	return err
}
