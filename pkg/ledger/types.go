package ledger

import (
	"encoding/json"
	"time"
)

// ActionType identifies which business mutation a ledger record describes
type ActionType string

const (
	ActionCreateSale        ActionType = "create_sale"
	ActionUpdatePrice       ActionType = "update_price"
	ActionChangeStatus      ActionType = "change_status"
	ActionUpdateLot         ActionType = "update_lot"
	ActionDeleteLot         ActionType = "delete_lot"
	ActionSplitLot          ActionType = "split_lot"
	ActionMergeLots         ActionType = "merge_lots"
	ActionUpdateBundle      ActionType = "update_bundle"
	ActionDeleteBundle      ActionType = "delete_bundle"
	ActionCreateAcquisition ActionType = "create_acquisition"
	ActionUpdateAcquisition ActionType = "update_acquisition"
	ActionUndo              ActionType = "undo"
	ActionOther             ActionType = "other"
)

// IsCreation reports whether the action type belongs to the creation family.
// Creation records carry no prior state and can never be undone.
func (a ActionType) IsCreation() bool {
	switch a {
	case ActionCreateSale, ActionCreateAcquisition:
		return true
	}
	return false
}

// Valid reports whether the action type is one of the known values
func (a ActionType) Valid() bool {
	switch a {
	case ActionCreateSale, ActionUpdatePrice, ActionChangeStatus,
		ActionUpdateLot, ActionDeleteLot, ActionSplitLot, ActionMergeLots,
		ActionUpdateBundle, ActionDeleteBundle,
		ActionCreateAcquisition, ActionUpdateAcquisition,
		ActionUndo, ActionOther:
		return true
	}
	return false
}

// Label returns a human-readable name for the action, used when composing
// undo descriptions
func (a ActionType) Label() string {
	switch a {
	case ActionCreateSale:
		return "Sale Creation"
	case ActionUpdatePrice:
		return "Price Update"
	case ActionChangeStatus:
		return "Status Change"
	case ActionUpdateLot:
		return "Item Update"
	case ActionDeleteLot:
		return "Item Deletion"
	case ActionSplitLot:
		return "Item Split"
	case ActionMergeLots:
		return "Item Merge"
	case ActionUpdateBundle:
		return "Bundle Update"
	case ActionDeleteBundle:
		return "Bundle Deletion"
	case ActionCreateAcquisition:
		return "Purchase Creation"
	case ActionUpdateAcquisition:
		return "Purchase Update"
	case ActionUndo:
		return "Undo"
	default:
		return "Previous Action"
	}
}

// EntityType identifies which live-store table a ledger record concerns
type EntityType string

const (
	EntitySalesOrder   EntityType = "sales_order"
	EntitySalesItem    EntityType = "sales_item"
	EntityInventoryLot EntityType = "inventory_lot"
	EntityBundle       EntityType = "bundle"
	EntityAcquisition  EntityType = "acquisition"
	EntityIntakeLine   EntityType = "intake_line"
	EntityOther        EntityType = "other"
)

// Valid reports whether the entity type is one of the known values
func (e EntityType) Valid() bool {
	switch e {
	case EntitySalesOrder, EntitySalesItem, EntityInventoryLot,
		EntityBundle, EntityAcquisition, EntityIntakeLine, EntityOther:
		return true
	}
	return false
}

// Snapshot holds the captured fields of an entity before or after a
// mutation. The ledger never assumes a schema for it; the keys are whatever
// the calling mutation chose to capture, and only the reversal strategy
// interprets them.
type Snapshot map[string]interface{}

// Actor identifies who performed a mutation. Both fields may be empty for
// system actions or public endpoints.
type Actor struct {
	UserID    string `json:"user_id,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

// Record is one immutable ledger entry. Once written, only the Undone
// marker may change, and it changes exactly once.
type Record struct {
	ID          string     `json:"id"`
	Actor       Actor      `json:"actor,omitempty"`
	ActionType  ActionType `json:"action_type"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	OldValues   Snapshot   `json:"old_values,omitempty"`
	NewValues   Snapshot   `json:"new_values,omitempty"`
	Description string     `json:"description,omitempty"`
	IPAddress   string     `json:"ip_address,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	Undone      bool       `json:"undone"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Entry is the caller-supplied portion of a Record. ID, Undone and
// CreatedAt are assigned at write time.
type Entry struct {
	Actor       Actor
	ActionType  ActionType
	EntityType  EntityType
	EntityID    string
	OldValues   Snapshot
	NewValues   Snapshot
	Description string
	IPAddress   string
	UserAgent   string
}

// Filter narrows a global ledger listing. Zero values mean "no constraint".
type Filter struct {
	UserID     string
	ActionType ActionType
	EntityType EntityType
	Limit      int
	Offset     int
}

const (
	// DefaultLimit applies when a caller does not specify a page size
	DefaultLimit = 100
	// MaxLimit bounds response size regardless of what the caller asks for
	MaxLimit = 1000
)

// Clamp normalizes the filter's pagination bounds
func (f *Filter) Clamp() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Page is the result of a global listing: one page of records plus the
// total number of records matching the filter.
type Page struct {
	Records []*Record `json:"records"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// ToJSON serializes the record
func (r *Record) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
