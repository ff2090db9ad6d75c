package domain

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

type EntityType string

const (
	EntityMember  EntityType = "member"
	EntityPayment EntityType = "payment"
	EntityPlan    EntityType = "plan"
)

const DefaultMaxRetries = 3

var (
	ErrInvalidOperation  = errors.New("invalid_operation")
	ErrInvalidEntityType = errors.New("invalid_entity_type")
	ErrInvalidEntityID   = errors.New("invalid_entity_id")
	ErrNotFound          = errors.New("not_found")
	ErrNotFailed         = errors.New("entry_not_failed")
	ErrDrainInProgress   = errors.New("drain_in_progress")
)

// Entry is a local mutation awaiting confirmation by the remote service.
type Entry struct {
	ID             string         `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Operation      Operation      `gorm:"type:varchar(16);not null" json:"operation"`
	EntityType     EntityType     `gorm:"type:varchar(16);not null;index:idx_outbox_entity" json:"entity_type"`
	EntityID       string         `gorm:"type:varchar(32);not null;index:idx_outbox_entity" json:"entity_id"`
	Payload        datatypes.JSON `json:"payload"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	Status         Status         `gorm:"type:varchar(16);not null;index" json:"status"`
	RetryCount     int            `gorm:"not null;default:0" json:"retry_count"`
	LastError      string         `json:"last_error,omitempty"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	IdempotencyKey string         `gorm:"type:varchar(64);not null" json:"idempotency_key"`
}

func (Entry) TableName() string { return "outbox_entries" }

func (e *Entry) RecordID() string   { return e.ID }
func (e *Entry) AssignID(id string) { e.ID = id }

func (e *Entry) Validate() error {
	switch e.Operation {
	case OperationCreate, OperationUpdate, OperationDelete:
	default:
		return ErrInvalidOperation
	}
	switch e.EntityType {
	case EntityMember, EntityPayment, EntityPlan:
	default:
		return ErrInvalidEntityType
	}
	if e.EntityID == "" {
		return ErrInvalidEntityID
	}
	return nil
}

func (e *Entry) IsPending() bool { return e.Status == StatusPending }

// MarkAttempt stamps the start of a replay.
func (e *Entry) MarkAttempt(now time.Time) {
	e.LastAttemptAt = &now
}

func (e *Entry) MarkCompleted() {
	e.Status = StatusCompleted
	e.LastError = ""
}

// MarkRetry counts a failed replay. The entry stays pending until its retry
// count exceeds maxRetries, then becomes failed.
func (e *Entry) MarkRetry(err error, maxRetries int) {
	e.RetryCount++
	if err != nil {
		e.LastError = err.Error()
	}
	if e.RetryCount > maxRetries {
		e.Status = StatusFailed
	}
}

// MarkFailed fails the entry without further retries.
func (e *Entry) MarkFailed(err error) {
	e.Status = StatusFailed
	if err != nil {
		e.LastError = err.Error()
	}
}

// Requeue returns a failed entry to the pending list with a fresh retry budget.
func (e *Entry) Requeue() error {
	if e.Status != StatusFailed {
		return ErrNotFailed
	}
	e.Status = StatusPending
	e.RetryCount = 0
	e.LastError = ""
	return nil
}

// Before orders entries by creation time, then id.
func (e *Entry) Before(other *Entry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.ID < other.ID
}
