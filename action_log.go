package main

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActionLabel names one kind of recorded mutation.
type ActionLabel string

const (
	ActionAccountCreated       ActionLabel = "account_created"
	ActionAccountDeactivated   ActionLabel = "account_deactivated"
	ActionVoucherCreated       ActionLabel = "voucher_created"
	ActionVoucherUpdated       ActionLabel = "voucher_updated"
	ActionVoucherDeleted       ActionLabel = "voucher_deleted"
	ActionManualJournalCreated ActionLabel = "manual_journal_created"
	ActionManualJournalUpdated ActionLabel = "manual_journal_updated"
	ActionManualJournalDeleted ActionLabel = "manual_journal_deleted"
)

// ActionLog records who performed a ledger mutation, with free-form JSON
// detail. It is an operational trail, not document versioning.
type ActionLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Actor     string         `gorm:"column:actor;type:varchar(255);index" json:"actor,omitempty"`
	Label     ActionLabel    `gorm:"column:label;type:varchar(255);not null" json:"label"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:text" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (ActionLog) TableName() string {
	return "action_logs"
}

// recordAction appends an action log row inside the caller's transaction so
// the trail commits or rolls back with the mutation it describes.
func recordAction(tx *gorm.DB, actor *string, label ActionLabel, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	record := &ActionLog{
		Label:    label,
		Metadata: payload,
	}
	if actor != nil {
		record.Actor = *actor
	}
	return tx.Create(record).Error
}

// ActionLogStore reads the recorded trail.
type ActionLogStore struct {
	db *gorm.DB
}

// NewActionLogStore creates a new ActionLogStore.
func NewActionLogStore(db *gorm.DB) *ActionLogStore {
	return &ActionLogStore{db: db}
}

// List retrieves action logs with optional filtering and pagination.
func (s *ActionLogStore) List(actor *string, label *ActionLabel, options *ListOptions) ([]ActionLog, error) {
	query := applyListOptions(s.db, "created_at", SortTypeDescending, options)

	if actor != nil {
		query = query.Where("actor = ?", *actor)
	}
	if label != nil {
		query = query.Where("label = ?", *label)
	}

	var logs []ActionLog
	err := query.Find(&logs).Error
	return logs, err
}

// Count returns the number of matching action log rows.
func (s *ActionLogStore) Count(actor *string, label *ActionLabel) (int64, error) {
	query := s.db.Model(&ActionLog{})

	if actor != nil {
		query = query.Where("actor = ?", *actor)
	}
	if label != nil {
		query = query.Where("label = ?", *label)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}
