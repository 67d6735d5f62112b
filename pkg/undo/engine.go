package undo

import (
	"context"
	"fmt"

	"github.com/cardfolio/backoffice/pkg/ledger"
	"github.com/cardfolio/backoffice/pkg/observability"
)

// Result reports the outcome of an undo
type Result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	AuditLogID string `json:"audit_log_id,omitempty"`
}

// Engine decides whether a ledger record can be reversed and performs the
// reversal. A record is undoable exactly when it exists, carries prior
// state, has not been undone, is not itself an undo, and its entity is
// still present in the live store.
type Engine struct {
	store    ledger.Store
	registry *Registry
	log      *observability.Logger
	metrics  *observability.Metrics
}

// NewEngine creates an undo engine. metrics may be nil.
func NewEngine(store ledger.Store, registry *Registry, log *observability.Logger, metrics *observability.Metrics) *Engine {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Engine{store: store, registry: registry, log: log, metrics: metrics}
}

// CanUndo evaluates the undoability predicate without side effects. A
// missing record answers false rather than erroring; a malformed id or a
// storage failure is still an error.
func (e *Engine) CanUndo(ctx context.Context, logID string) (bool, error) {
	record, err := e.store.GetByID(ctx, logID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("can_undo %s: %w", logID, err)
	}

	if reason := e.blockedReason(ctx, record); reason != "" {
		return false, nil
	}
	return true, nil
}

// blockedReason returns a human-readable reason the record cannot be
// undone, or "" when it can. Storage failures during the existence probe
// conservatively block the undo.
func (e *Engine) blockedReason(ctx context.Context, record *ledger.Record) string {
	if record.ActionType == ledger.ActionUndo {
		return "undo entries cannot themselves be undone"
	}
	if len(record.OldValues) == 0 {
		return "no previous state available"
	}
	if record.Undone {
		return "already undone"
	}

	strategy, ok := e.registry.Lookup(record.EntityType)
	if !ok {
		return fmt.Sprintf("no reversal strategy for entity type %s", record.EntityType)
	}

	exists, err := strategy.Exists(ctx, record.EntityID)
	if err != nil {
		e.log.WithError(err).WithField("entity_id", record.EntityID).Warn("entity existence check failed")
		return "entity state could not be verified"
	}
	if !exists {
		return "entity no longer exists"
	}
	return ""
}

// Undo reverses the mutation described by one ledger record:
//
//  1. re-validate undoability (same predicate as CanUndo);
//  2. restore the captured prior state via the entity type's strategy,
//     touching only the captured fields;
//  3. mark the record undone with a single conditional write, so of two
//     racing callers exactly one proceeds past this point;
//  4. append a compensating ledger record describing the undo.
//
// The restore runs before the marker write: a crash between the two
// leaves the record undoable and the restore idempotent, rather than a
// record marked undone whose entity was never restored.
func (e *Engine) Undo(ctx context.Context, logID string, actor ledger.Actor) (*Result, error) {
	record, err := e.store.GetByID(ctx, logID)
	if err != nil {
		e.countOutcome(outcomeOf(err))
		return nil, fmt.Errorf("undo %s: %w", logID, err)
	}

	if reason := e.blockedReason(ctx, record); reason != "" {
		e.countOutcome("conflict")
		return nil, &ledger.ConflictError{Code: "CANNOT_UNDO", Reason: "cannot undo: " + reason}
	}

	strategy, _ := e.registry.Lookup(record.EntityType)
	if err := strategy.Restore(ctx, record.EntityID, record.OldValues); err != nil {
		e.countOutcome(outcomeOf(err))
		return nil, fmt.Errorf("undo %s: %w", logID, err)
	}

	if err := e.store.MarkUndone(ctx, record.ID); err != nil {
		// Lost the race: the concurrent winner restored the same
		// snapshot and appended the compensating record.
		e.countOutcome(outcomeOf(err))
		return nil, fmt.Errorf("undo %s: %w", logID, err)
	}

	compensating := e.appendCompensating(ctx, record, actor)

	e.countOutcome("success")
	result := &Result{
		Success: true,
		Message: fmt.Sprintf("Successfully undone %s on %s", record.ActionType, record.EntityType),
	}
	if compensating != nil {
		result.AuditLogID = compensating.ID
	}
	return result, nil
}

// appendCompensating records the undo itself in the ledger. The append is
// best-effort like every other audit write: the restore has already
// happened and is not rolled back over a missing audit row.
func (e *Engine) appendCompensating(ctx context.Context, record *ledger.Record, actor ledger.Actor) *ledger.Record {
	compensating, err := e.store.Append(ctx, ledger.Entry{
		Actor:       actor,
		ActionType:  ledger.ActionUndo,
		EntityType:  record.EntityType,
		EntityID:    record.EntityID,
		OldValues:   record.NewValues, // state just overwritten
		NewValues:   record.OldValues, // state just restored
		Description: "Reverted: " + record.ActionType.Label(),
	})
	if err != nil {
		e.log.WithError(err).WithFields(map[string]interface{}{
			"log_id":    record.ID,
			"entity_id": record.EntityID,
		}).Warn("failed to append compensating ledger record")
		return nil
	}
	return compensating
}

func (e *Engine) countOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.UndoAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

func outcomeOf(err error) string {
	switch {
	case ledger.IsConflict(err):
		return "conflict"
	case ledger.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
