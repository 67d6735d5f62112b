package ledger

import (
	"context"

	"github.com/cardfolio/backoffice/pkg/observability"
)

// Recorder is the write-side facade business operations call after their
// primary mutation has committed. Logging is best-effort by design: a
// failed append is degraded to a warning and never propagated, because the
// mutation it describes has already happened and must not be rolled back
// over a missing audit row. A crash between the mutation and the append
// leaves a silent gap in history; that is an accepted limitation.
type Recorder struct {
	store Store
	log   *observability.Logger
}

// NewRecorder creates a best-effort ledger recorder
func NewRecorder(store Store, log *observability.Logger) *Recorder {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Recorder{store: store, log: log}
}

// Record appends one ledger entry. On failure it returns nil; the caller
// observes a no-op.
func (r *Recorder) Record(ctx context.Context, entry Entry) *Record {
	record, err := r.store.Append(ctx, entry)
	if err != nil {
		r.log.WithError(err).WithFields(map[string]interface{}{
			"action_type": string(entry.ActionType),
			"entity_type": string(entry.EntityType),
			"entity_id":   entry.EntityID,
		}).Warn("audit append failed; continuing without ledger entry")
		return nil
	}
	return record
}
