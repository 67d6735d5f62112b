package integrity

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

// fakePhotoStore answers existence probes from a fixed key set
type fakePhotoStore struct {
	keys   map[string]bool
	errFor map[string]error
}

func (s *fakePhotoStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	return nil
}

func (s *fakePhotoStore) PutHashed(ctx context.Context, content []byte, contentType string) (string, error) {
	return "", nil
}

func (s *fakePhotoStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (s *fakePhotoStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.errFor[key]; err != nil {
		return false, err
	}
	return s.keys[key], nil
}

func (s *fakePhotoStore) Delete(ctx context.Context, key string) error {
	return nil
}

// expectOrphanBaseline queues the four parent id-set queries
func expectOrphanBaseline(mock sqlmock.Sqlmock, lots, bundles, salesItems, acquisitions []string) {
	idRows := func(ids []string) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id"})
		for _, id := range ids {
			rows.AddRow(id)
		}
		return rows
	}
	mock.ExpectQuery("SELECT id FROM inventory_lots").WillReturnRows(idRows(lots))
	mock.ExpectQuery("SELECT id FROM bundles").WillReturnRows(idRows(bundles))
	mock.ExpectQuery("SELECT id FROM sales_items").WillReturnRows(idRows(salesItems))
	mock.ExpectQuery("SELECT id FROM acquisitions").WillReturnRows(idRows(acquisitions))
}

func TestOrphanCheck(t *testing.T) {
	t.Run("clean store yields no findings", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectOrphanBaseline(mock, []string{"lot-1"}, []string{"bundle-1"}, []string{"si-1"}, []string{"acq-1"})
		mock.ExpectQuery("SELECT id, lot_id FROM sales_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id"}).AddRow("si-1", "lot-1"))
		mock.ExpectQuery("SELECT id, bundle_id FROM bundle_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "bundle_id"}).AddRow("bi-1", "bundle-1"))
		mock.ExpectQuery("SELECT id, lot_id FROM bundle_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id"}).AddRow("bi-1", "lot-1"))
		mock.ExpectQuery("SELECT id, sales_item_id FROM sales_item_purchase_allocations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "sales_item_id"}).AddRow("alloc-1", "si-1"))
		mock.ExpectQuery("SELECT id, acquisition_id FROM sales_item_purchase_allocations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "acquisition_id"}).AddRow("alloc-1", "acq-1"))
		mock.ExpectQuery("SELECT id, lot_id, storage_key FROM lot_photos").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id", "storage_key"}))

		check := NewOrphanCheck(db, nil)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, findings)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports sales item pointing at a deleted lot", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectOrphanBaseline(mock, []string{"lot-1"}, nil, []string{"si-1"}, nil)
		mock.ExpectQuery("SELECT id, lot_id FROM sales_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id"}).
				AddRow("si-1", "lot-1").
				AddRow("si-2", "lot-gone"))
		mock.ExpectQuery("SELECT id, bundle_id FROM bundle_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "bundle_id"}))
		mock.ExpectQuery("SELECT id, lot_id FROM bundle_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id"}))
		mock.ExpectQuery("SELECT id, sales_item_id FROM sales_item_purchase_allocations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "sales_item_id"}))
		mock.ExpectQuery("SELECT id, acquisition_id FROM sales_item_purchase_allocations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "acquisition_id"}))
		mock.ExpectQuery("SELECT id, lot_id, storage_key FROM lot_photos").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id", "storage_key"}))

		check := NewOrphanCheck(db, nil)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, CheckOrphaned, findings[0].Check)
		assert.Equal(t, SeverityError, findings[0].Severity)
		assert.Equal(t, "sales_item", findings[0].EntityType)
		assert.Equal(t, "si-2", findings[0].EntityID)
		assert.Equal(t, "lot-gone", findings[0].Details["lot_id"])
	})

	t.Run("null references are not orphans", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectOrphanBaseline(mock, nil, nil, nil, nil)
		mock.ExpectQuery("SELECT id, lot_id FROM sales_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id"}).AddRow("si-1", nil))
		mock.ExpectQuery("SELECT id, bundle_id FROM bundle_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "bundle_id"}))
		mock.ExpectQuery("SELECT id, lot_id FROM bundle_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id"}))
		mock.ExpectQuery("SELECT id, sales_item_id FROM sales_item_purchase_allocations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "sales_item_id"}))
		mock.ExpectQuery("SELECT id, acquisition_id FROM sales_item_purchase_allocations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "acquisition_id"}))
		mock.ExpectQuery("SELECT id, lot_id, storage_key FROM lot_photos").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id", "storage_key"}))

		check := NewOrphanCheck(db, nil)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("photo findings", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectOrphanBaseline(mock, []string{"lot-1"}, nil, nil, nil)
		mock.ExpectQuery("SELECT id, lot_id FROM sales_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id"}))
		mock.ExpectQuery("SELECT id, bundle_id FROM bundle_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "bundle_id"}))
		mock.ExpectQuery("SELECT id, lot_id FROM bundle_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id"}))
		mock.ExpectQuery("SELECT id, sales_item_id FROM sales_item_purchase_allocations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "sales_item_id"}))
		mock.ExpectQuery("SELECT id, acquisition_id FROM sales_item_purchase_allocations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "acquisition_id"}))
		mock.ExpectQuery("SELECT id, lot_id, storage_key FROM lot_photos").
			WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id", "storage_key"}).
				AddRow("photo-1", "lot-1", "photos/ok.jpg").
				AddRow("photo-2", "lot-1", "photos/missing.jpg").
				AddRow("photo-3", "lot-gone", "photos/orphan.jpg").
				AddRow("photo-4", "lot-1", "photos/flaky.jpg"))

		photos := &fakePhotoStore{
			keys: map[string]bool{
				"photos/ok.jpg":     true,
				"photos/orphan.jpg": true,
			},
			errFor: map[string]error{
				"photos/flaky.jpg": errors.New("dial tcp: timeout"),
			},
		}

		check := NewOrphanCheck(db, photos)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 3)

		messages := make(map[string]string, len(findings))
		for _, f := range findings {
			assert.Equal(t, SeverityWarning, f.Severity)
			assert.Equal(t, "lot_photo", f.EntityType)
			messages[f.EntityID] = f.Message
		}
		assert.Equal(t, "photo object is missing from storage", messages["photo-2"])
		assert.Equal(t, "photo references a lot that does not exist", messages["photo-3"])
		assert.Equal(t, "photo object could not be verified", messages["photo-4"])
	})

	t.Run("query failure aborts the check", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT id FROM inventory_lots").WillReturnError(errors.New("connection reset"))

		check := NewOrphanCheck(db, nil)
		findings, err := check.Run(context.Background())
		assert.Nil(t, findings)
		assert.Error(t, err)
	})
}

func TestQuantityCheck(t *testing.T) {
	expectSums := func(mock sqlmock.Sqlmock, sold, reserved *sqlmock.Rows) {
		mock.ExpectQuery("FROM sales_items GROUP BY lot_id").WillReturnRows(sold)
		mock.ExpectQuery("FROM bundle_items GROUP BY lot_id").WillReturnRows(reserved)
	}

	t.Run("consistent lot yields no findings", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectSums(mock,
			sqlmock.NewRows([]string{"lot_id", "sum"}).AddRow("lot-1", 3),
			sqlmock.NewRows([]string{"lot_id", "sum"}).AddRow("lot-1", 2))
		mock.ExpectQuery("SELECT id, quantity, available FROM inventory_lots").
			WillReturnRows(sqlmock.NewRows([]string{"id", "quantity", "available"}).
				AddRow("lot-1", 10, 5))

		check := NewQuantityCheck(db)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("drifted cache is reported with the recomputed value", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectSums(mock,
			sqlmock.NewRows([]string{"lot_id", "sum"}).AddRow("lot-1", 3),
			sqlmock.NewRows([]string{"lot_id", "sum"}).AddRow("lot-1", 2))
		mock.ExpectQuery("SELECT id, quantity, available FROM inventory_lots").
			WillReturnRows(sqlmock.NewRows([]string{"id", "quantity", "available"}).
				AddRow("lot-1", 10, 6))

		check := NewQuantityCheck(db)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 1)

		f := findings[0]
		assert.Equal(t, CheckQuantities, f.Check)
		assert.Equal(t, SeverityError, f.Severity)
		assert.Equal(t, "lot-1", f.EntityID)
		assert.Equal(t, int64(5), f.Details["expected"])
		assert.Equal(t, int64(6), f.Details["cached"])
		assert.Contains(t, f.Message, "does not match")
	})

	t.Run("oversold lot gets the oversell message", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectSums(mock,
			sqlmock.NewRows([]string{"lot_id", "sum"}).AddRow("lot-1", 8),
			sqlmock.NewRows([]string{"lot_id", "sum"}).AddRow("lot-1", 4))
		mock.ExpectQuery("SELECT id, quantity, available FROM inventory_lots").
			WillReturnRows(sqlmock.NewRows([]string{"id", "quantity", "available"}).
				AddRow("lot-1", 10, 0))

		check := NewQuantityCheck(db)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Contains(t, findings[0].Message, "oversold")
		assert.Equal(t, int64(-2), findings[0].Details["expected"])
	})

	t.Run("lot with no sales or reservations", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectSums(mock,
			sqlmock.NewRows([]string{"lot_id", "sum"}),
			sqlmock.NewRows([]string{"lot_id", "sum"}))
		mock.ExpectQuery("SELECT id, quantity, available FROM inventory_lots").
			WillReturnRows(sqlmock.NewRows([]string{"id", "quantity", "available"}).
				AddRow("lot-1", 4, 4))

		check := NewQuantityCheck(db)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestProfitCheck(t *testing.T) {
	expectOrderScan := func(mock sqlmock.Sqlmock, id string, fees, shipping, discount int64) {
		mock.ExpectQuery("FROM sales_orders").
			WillReturnRows(sqlmock.NewRows([]string{"id", "fees_pence", "shipping_pence", "discount_pence"}).
				AddRow(id, fees, shipping, discount))
	}
	expectComponents := func(mock sqlmock.Sqlmock, orderID string, revenue, lineCount, allocated, consumables int64) {
		mock.ExpectQuery("FROM sales_items WHERE sales_order_id").
			WithArgs(orderID).
			WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow(revenue, lineCount))
		mock.ExpectQuery("JOIN sales_items si").
			WithArgs(orderID).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(allocated))
		mock.ExpectQuery("FROM sales_consumables").
			WithArgs(orderID).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(consumables))
	}

	t.Run("drift within tolerance passes", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		// computed = 5000 - 100 - (300 + 200 + 1500 + 50) = 2850,
		// two line items allow a drift of 2
		expectOrderScan(mock, "order-1", 300, 200, 100)
		expectComponents(mock, "order-1", 5000, 2, 1500, 50)
		mock.ExpectQuery("FROM v_sales_order_profit").
			WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"net_profit_pence"}).AddRow(2848))

		check := NewProfitCheck(db)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("drift beyond tolerance is reported", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectOrderScan(mock, "order-1", 300, 200, 100)
		expectComponents(mock, "order-1", 5000, 2, 1500, 50)
		mock.ExpectQuery("FROM v_sales_order_profit").
			WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"net_profit_pence"}).AddRow(2500))

		check := NewProfitCheck(db)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 1)

		f := findings[0]
		assert.Equal(t, CheckProfit, f.Check)
		assert.Equal(t, "sales_order", f.EntityType)
		assert.Equal(t, "order-1", f.EntityID)
		assert.Equal(t, int64(2850), f.Details["computed_pence"])
		assert.Equal(t, int64(2500), f.Details["stored_pence"])
		assert.Equal(t, int64(2), f.Details["tolerance"])
	})

	t.Run("order missing from the view is skipped", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectOrderScan(mock, "order-1", 0, 0, 0)
		expectComponents(mock, "order-1", 1000, 1, 0, 0)
		mock.ExpectQuery("FROM v_sales_order_profit").
			WithArgs("order-1").
			WillReturnError(sql.ErrNoRows)

		check := NewProfitCheck(db)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("empty order uses the minimum tolerance", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		expectOrderScan(mock, "order-1", 0, 0, 0)
		expectComponents(mock, "order-1", 0, 0, 0, 0)
		mock.ExpectQuery("FROM v_sales_order_profit").
			WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"net_profit_pence"}).AddRow(2))

		check := NewProfitCheck(db)
		findings, err := check.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 1, "a 2p drift exceeds the 1p floor tolerance")
	})
}
