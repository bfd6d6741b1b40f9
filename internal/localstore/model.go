package localstore

import "gorm.io/datatypes"

const (
	stateKeyCurrentBinder = "current_binder"
	stateKeyBinderCache   = "binder_cache"
)

// BinderRow persists one local binder document.
type BinderRow struct {
	BinderID    string         `gorm:"column:binder_id;primaryKey;size:190"`
	OwnerID     string         `gorm:"column:owner_id;size:190;not null;index"`
	Payload     datatypes.JSON `gorm:"column:payload;not null"`
	UpdatedAtMs int64          `gorm:"column:updated_at_ms;not null"`
}

// TableName binds the model to local_binders.
func (BinderRow) TableName() string {
	return "local_binders"
}

// StateRow persists a named piece of session state.
type StateRow struct {
	Key         string         `gorm:"column:state_key;primaryKey;size:64"`
	Value       datatypes.JSON `gorm:"column:value;not null"`
	UpdatedAtMs int64          `gorm:"column:updated_at_ms;not null"`
}

// TableName binds the model to local_state.
func (StateRow) TableName() string {
	return "local_state"
}
