// Package undo reverses a single recorded mutation by writing its captured
// prior state back onto the live row, through a per-entity-type strategy
// registry. The engine itself knows nothing about tables or columns; the
// strategy registered for a record's entity type does.
package undo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cardfolio/backoffice/pkg/ledger"
)

// Strategy knows how to write a captured field snapshot back onto one live
// row of a specific entity type. Implementations validate the snapshot at
// reversal time; the ledger never validated it at write time.
type Strategy interface {
	// Exists reports whether the live row is still present
	Exists(ctx context.Context, entityID string) (bool, error)

	// Restore applies the snapshot as a targeted partial update: only
	// the captured fields are written, everything else is left alone.
	Restore(ctx context.Context, entityID string, fields ledger.Snapshot) error
}

// Registry maps entity types to their reversal strategies. Adding an
// entity type means registering a strategy, not branching in the engine.
type Registry struct {
	strategies map[ledger.EntityType]Strategy
}

// NewRegistry creates an empty strategy registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[ledger.EntityType]Strategy)}
}

// Register binds a strategy to an entity type, replacing any previous one
func (r *Registry) Register(entityType ledger.EntityType, strategy Strategy) {
	r.strategies[entityType] = strategy
}

// Lookup returns the strategy for an entity type, or false when none is
// registered (EntityOther deliberately has no strategy)
func (r *Registry) Lookup(entityType ledger.EntityType) (Strategy, bool) {
	s, ok := r.strategies[entityType]
	return s, ok
}

// TableStrategy is the generic SQL reversal strategy: one live-store table,
// a fixed set of restorable columns. The column allowlist is the reversal-
// time validation of the otherwise opaque snapshot.
type TableStrategy struct {
	db      *sql.DB
	table   string
	columns map[string]bool
}

// NewTableStrategy creates a strategy for one table. columns lists every
// field a snapshot may restore; anything else in a snapshot is rejected.
func NewTableStrategy(db *sql.DB, table string, columns []string) *TableStrategy {
	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}
	return &TableStrategy{db: db, table: table, columns: allowed}
}

// Exists reports whether the row is still present
func (s *TableStrategy) Exists(ctx context.Context, entityID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+s.table+" WHERE id = $1", entityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &ledger.StorageError{Op: "exists " + s.table, Cause: err}
	}
	return true, nil
}

// Restore writes the snapshot's fields back onto the row. Columns are
// applied in sorted order so the generated SQL is deterministic.
func (s *TableStrategy) Restore(ctx context.Context, entityID string, fields ledger.Snapshot) error {
	if len(fields) == 0 {
		return &ledger.ConflictError{Code: "CANNOT_UNDO", Reason: "no previous state available"}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !s.columns[k] {
			return &ledger.ValidationError{
				Field:  k,
				Reason: fmt.Sprintf("not a restorable column of %s", s.table),
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assignments := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	for i, k := range keys {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", k, i+1))
		args = append(args, fields[k])
	}
	args = append(args, entityID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		s.table, strings.Join(assignments, ", "), len(keys)+1)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &ledger.StorageError{Op: "restore " + s.table, Cause: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &ledger.StorageError{Op: "restore " + s.table, Cause: err}
	}
	if affected == 0 {
		return &ledger.NotFoundError{Kind: "entity", ID: entityID}
	}
	return nil
}

// DefaultRegistry wires the standard strategies for every live-store table
// the ledger audits. The column sets mirror what the business mutations
// capture in their snapshots.
func DefaultRegistry(db *sql.DB) *Registry {
	r := NewRegistry()
	r.Register(ledger.EntitySalesOrder, NewTableStrategy(db, "sales_orders", []string{
		"status", "sold_at", "buyer_id", "fees_pence", "shipping_pence", "discount_pence", "notes",
	}))
	r.Register(ledger.EntitySalesItem, NewTableStrategy(db, "sales_items", []string{
		"lot_id", "qty", "sold_price_pence", "sales_order_id",
	}))
	r.Register(ledger.EntityInventoryLot, NewTableStrategy(db, "inventory_lots", []string{
		"quantity", "available", "status", "condition", "location", "asking_price_pence", "notes",
	}))
	r.Register(ledger.EntityBundle, NewTableStrategy(db, "bundles", []string{
		"name", "status", "asking_price_pence", "notes",
	}))
	r.Register(ledger.EntityAcquisition, NewTableStrategy(db, "acquisitions", []string{
		"source", "total_paid_pence", "acquired_at", "notes",
	}))
	r.Register(ledger.EntityIntakeLine, NewTableStrategy(db, "intake_lines", []string{
		"acquisition_id", "qty", "unit_cost_pence", "notes",
	}))
	// EntityOther has no strategy: records tagged with it are not undoable
	return r
}
