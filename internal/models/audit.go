package models

import "time"

// AuditStatus is the outcome class of one transfer attempt.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "SUCCESS"
	AuditFailed  AuditStatus = "FAILED"
	AuditError   AuditStatus = "ERROR"
)

// AuditEntry records one distinct outcome of a transfer attempt.
// Entries are write-once per (TransactionRef, RouteRef, Status): a repeat
// attempt landing on the same status must not create a duplicate.
type AuditEntry struct {
	// ID is the unique identifier for the entry (UUID format).
	ID string

	TransactionRef string
	RouteRef       string

	SourceAccountID      string
	DestinationAccountID string

	Status AuditStatus

	// Code carries the upstream error code for ERROR entries.
	Code    string
	Message string

	// ExecutionTime is how long the attempt took, recorded in milliseconds.
	ExecutionTime time.Duration

	Timestamp time.Time
}
