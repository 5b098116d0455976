package service

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexhq/apex/pkg/types"
)

func newMockService(t *testing.T) (*OrderArchiveService, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewOrderArchiveService(sqlx.NewDb(db, "mysql")), mock
}

func terminalOrder() types.Order {
	now := time.Now()
	return types.Order{
		SubmitOrder: types.SubmitOrder{
			ClientOrderID: "c1",
			Symbol:        "AAPL",
			Side:          types.SideTypeBuy,
			Type:          types.OrderTypeMarket,
			Quantity:      10,
			TimeInForce:   types.TimeInForceDay,
		},
		OrderID:        "o1",
		BrokerOrderID:  "b1",
		Broker:         "paper",
		UserID:         "u1",
		Status:         types.OrderStatusFilled,
		FilledQuantity: 10,
		FilledAvgPrice: 100,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestOrderArchiveService_Archive(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Archive(terminalOrder())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderArchiveService_ArchiveSkipsWorkingOrders(t *testing.T) {
	s, mock := newMockService(t)

	order := terminalOrder()
	order.Status = types.OrderStatusAccepted

	err := s.Archive(order)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "working orders must not touch the database")
}

func TestOrderArchiveService_Purge(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectExec("DELETE FROM orders WHERE updated_at").
		WillReturnResult(sqlmock.NewResult(0, 42))

	purged, err := s.Purge(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(42), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderArchiveService_Migrate(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate())
	assert.NoError(t, mock.ExpectationsWereMet())
}
