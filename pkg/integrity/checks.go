package integrity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cardfolio/backoffice/pkg/blob"
)

// Check names, also the values accepted by the HTTP handler's ?check=
// parameter.
const (
	CheckOrphaned   = "orphaned"
	CheckQuantities = "quantities"
	CheckProfit     = "profit"
)

// OrphanCheck walks every child table that references inventory lots,
// bundles, sales items, or acquisitions and reports rows whose parent no
// longer exists. Joins are done in memory over id sets so a single broken
// foreign key cannot hide behind SQL join semantics. When a photo store
// is configured it also verifies that each lot photo's object still
// exists in storage.
type OrphanCheck struct {
	db     *sql.DB
	photos blob.PhotoStore
}

func NewOrphanCheck(db *sql.DB, photos blob.PhotoStore) *OrphanCheck {
	return &OrphanCheck{db: db, photos: photos}
}

func (c *OrphanCheck) Name() string { return CheckOrphaned }

func (c *OrphanCheck) Run(ctx context.Context) ([]Finding, error) {
	lots, err := c.idSet(ctx, "SELECT id FROM inventory_lots")
	if err != nil {
		return nil, fmt.Errorf("loading lot ids: %w", err)
	}
	bundles, err := c.idSet(ctx, "SELECT id FROM bundles")
	if err != nil {
		return nil, fmt.Errorf("loading bundle ids: %w", err)
	}
	salesItems, err := c.idSet(ctx, "SELECT id FROM sales_items")
	if err != nil {
		return nil, fmt.Errorf("loading sales item ids: %w", err)
	}
	acquisitions, err := c.idSet(ctx, "SELECT id FROM acquisitions")
	if err != nil {
		return nil, fmt.Errorf("loading acquisition ids: %w", err)
	}

	var findings []Finding

	found, err := c.scanChildren(ctx,
		"SELECT id, lot_id FROM sales_items",
		"sales_item", "lot_id", lots, SeverityError,
		"sales item references a lot that does not exist")
	if err != nil {
		return nil, err
	}
	findings = append(findings, found...)

	found, err = c.scanChildren(ctx,
		"SELECT id, bundle_id FROM bundle_items",
		"bundle_item", "bundle_id", bundles, SeverityError,
		"bundle item references a bundle that does not exist")
	if err != nil {
		return nil, err
	}
	findings = append(findings, found...)

	found, err = c.scanChildren(ctx,
		"SELECT id, lot_id FROM bundle_items",
		"bundle_item", "lot_id", lots, SeverityError,
		"bundle item references a lot that does not exist")
	if err != nil {
		return nil, err
	}
	findings = append(findings, found...)

	found, err = c.scanChildren(ctx,
		"SELECT id, sales_item_id FROM sales_item_purchase_allocations",
		"purchase_allocation", "sales_item_id", salesItems, SeverityError,
		"cost allocation references a sales item that does not exist")
	if err != nil {
		return nil, err
	}
	findings = append(findings, found...)

	found, err = c.scanChildren(ctx,
		"SELECT id, acquisition_id FROM sales_item_purchase_allocations",
		"purchase_allocation", "acquisition_id", acquisitions, SeverityError,
		"cost allocation references an acquisition that does not exist")
	if err != nil {
		return nil, err
	}
	findings = append(findings, found...)

	photoFindings, err := c.checkPhotos(ctx, lots)
	if err != nil {
		return nil, err
	}
	findings = append(findings, photoFindings...)

	return findings, nil
}

func (c *OrphanCheck) idSet(ctx context.Context, query string) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = true
	}
	return set, rows.Err()
}

func (c *OrphanCheck) scanChildren(ctx context.Context, query, entityType, refColumn string, parents map[string]bool, severity Severity, message string) ([]Finding, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scanning %s rows: %w", entityType, err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var id string
		var ref sql.NullString
		if err := rows.Scan(&id, &ref); err != nil {
			return nil, err
		}
		if !ref.Valid {
			continue
		}
		if !parents[ref.String] {
			findings = append(findings, Finding{
				Check:      CheckOrphaned,
				Severity:   severity,
				EntityType: entityType,
				EntityID:   id,
				Message:    message,
				Details:    map[string]interface{}{refColumn: ref.String},
			})
		}
	}
	return findings, rows.Err()
}

func (c *OrphanCheck) checkPhotos(ctx context.Context, lots map[string]bool) ([]Finding, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, lot_id, storage_key FROM lot_photos")
	if err != nil {
		return nil, fmt.Errorf("scanning lot photos: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var id, lotID string
		var key sql.NullString
		if err := rows.Scan(&id, &lotID, &key); err != nil {
			return nil, err
		}
		if !lots[lotID] {
			findings = append(findings, Finding{
				Check:      CheckOrphaned,
				Severity:   SeverityWarning,
				EntityType: "lot_photo",
				EntityID:   id,
				Message:    "photo references a lot that does not exist",
				Details:    map[string]interface{}{"lot_id": lotID},
			})
		}
		if c.photos != nil && key.Valid && key.String != "" {
			exists, err := c.photos.Exists(ctx, key.String)
			if err != nil {
				// The object store being unreachable is a check
				// degradation, not corruption.
				findings = append(findings, Finding{
					Check:      CheckOrphaned,
					Severity:   SeverityWarning,
					EntityType: "lot_photo",
					EntityID:   id,
					Message:    "photo object could not be verified",
					Details:    map[string]interface{}{"storage_key": key.String, "error": err.Error()},
				})
				continue
			}
			if !exists {
				findings = append(findings, Finding{
					Check:      CheckOrphaned,
					Severity:   SeverityWarning,
					EntityType: "lot_photo",
					EntityID:   id,
					Message:    "photo object is missing from storage",
					Details:    map[string]interface{}{"storage_key": key.String},
				})
			}
		}
	}
	return findings, rows.Err()
}

// QuantityCheck recomputes each lot's available count from first
// principles (on-hand quantity minus units sold minus units reserved in
// bundles) and compares it to the cached available column.
type QuantityCheck struct {
	db *sql.DB
}

func NewQuantityCheck(db *sql.DB) *QuantityCheck {
	return &QuantityCheck{db: db}
}

func (c *QuantityCheck) Name() string { return CheckQuantities }

func (c *QuantityCheck) Run(ctx context.Context) ([]Finding, error) {
	sold, err := c.sumByLot(ctx, "SELECT lot_id, COALESCE(SUM(qty), 0) FROM sales_items GROUP BY lot_id")
	if err != nil {
		return nil, fmt.Errorf("summing sold units: %w", err)
	}
	reserved, err := c.sumByLot(ctx, "SELECT lot_id, COALESCE(SUM(quantity), 0) FROM bundle_items GROUP BY lot_id")
	if err != nil {
		return nil, fmt.Errorf("summing reserved units: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, "SELECT id, quantity, available FROM inventory_lots")
	if err != nil {
		return nil, fmt.Errorf("scanning lots: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var id string
		var quantity, available int64
		if err := rows.Scan(&id, &quantity, &available); err != nil {
			return nil, err
		}
		expected := quantity - sold[id] - reserved[id]
		if expected != available {
			severity := SeverityError
			message := "cached available count does not match recomputed value"
			if expected < 0 {
				message = "lot is oversold: sold and reserved units exceed on-hand quantity"
			}
			findings = append(findings, Finding{
				Check:      CheckQuantities,
				Severity:   severity,
				EntityType: "inventory_lot",
				EntityID:   id,
				Message:    message,
				Details: map[string]interface{}{
					"quantity": quantity,
					"sold":     sold[id],
					"reserved": reserved[id],
					"expected": expected,
					"cached":   available,
				},
			})
		}
	}
	return findings, rows.Err()
}

func (c *QuantityCheck) sumByLot(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var lotID sql.NullString
		var total int64
		if err := rows.Scan(&lotID, &total); err != nil {
			return nil, err
		}
		if lotID.Valid {
			sums[lotID.String] = total
		}
	}
	return sums, rows.Err()
}

// ProfitCheck recomputes net profit per sales order from its line items,
// cost allocations, consumables, fees, shipping, and discount, then
// compares the figure to the materialized v_sales_order_profit view. A
// tolerance of one minor currency unit per line item absorbs rounding
// differences between the two computations.
type ProfitCheck struct {
	db *sql.DB
}

func NewProfitCheck(db *sql.DB) *ProfitCheck {
	return &ProfitCheck{db: db}
}

func (c *ProfitCheck) Name() string { return CheckProfit }

func (c *ProfitCheck) Run(ctx context.Context) ([]Finding, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, fees_pence, shipping_pence, discount_pence FROM sales_orders")
	if err != nil {
		return nil, fmt.Errorf("scanning sales orders: %w", err)
	}
	type order struct {
		id                       string
		fees, shipping, discount int64
	}
	var orders []order
	for rows.Next() {
		var o order
		if err := rows.Scan(&o.id, &o.fees, &o.shipping, &o.discount); err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var findings []Finding
	for _, o := range orders {
		var revenue, lineCount int64
		err := c.db.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(sold_price_pence * qty), 0), COUNT(*) FROM sales_items WHERE sales_order_id = $1",
			o.id).Scan(&revenue, &lineCount)
		if err != nil {
			return nil, fmt.Errorf("summing revenue for order %s: %w", o.id, err)
		}

		var allocated int64
		err = c.db.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(a.allocated_cost_pence), 0) FROM sales_item_purchase_allocations a JOIN sales_items si ON a.sales_item_id = si.id WHERE si.sales_order_id = $1",
			o.id).Scan(&allocated)
		if err != nil {
			return nil, fmt.Errorf("summing allocated cost for order %s: %w", o.id, err)
		}

		var consumables int64
		err = c.db.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(qty * unit_cost_pence), 0) FROM sales_consumables WHERE sales_order_id = $1",
			o.id).Scan(&consumables)
		if err != nil {
			return nil, fmt.Errorf("summing consumable cost for order %s: %w", o.id, err)
		}

		var stored int64
		err = c.db.QueryRowContext(ctx,
			"SELECT net_profit_pence FROM v_sales_order_profit WHERE sales_order_id = $1",
			o.id).Scan(&stored)
		if err == sql.ErrNoRows {
			// Orders not yet materialized in the view are skipped, not
			// flagged; the orphan check covers missing references.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading materialized profit for order %s: %w", o.id, err)
		}

		computed := revenue - o.discount - (o.fees + o.shipping + allocated + consumables)
		tolerance := lineCount
		if tolerance < 1 {
			tolerance = 1
		}
		if diff := computed - stored; diff > tolerance || diff < -tolerance {
			findings = append(findings, Finding{
				Check:      CheckProfit,
				Severity:   SeverityError,
				EntityType: "sales_order",
				EntityID:   o.id,
				Message:    "materialized net profit drifted from recomputed value",
				Details: map[string]interface{}{
					"computed_pence": computed,
					"stored_pence":   stored,
					"revenue_pence":  revenue,
					"line_items":     lineCount,
					"tolerance":      tolerance,
				},
			})
		}
	}
	return findings, nil
}
