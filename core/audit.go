package core

import (
	"context"
	"time"
)

// Audit record kinds.
const (
	AuditKindWaiver     = "Waiver"
	AuditKindAllocation = "Allocation"
)

// AuditLogger records administrative events for later review.
// Record is fire-and-forget: implementations log their own failures and
// never propagate them to the caller.
type AuditLogger interface {
	Record(ctx context.Context, kind, subjectID string, payload map[string]interface{}, actorID string)
}

// AuditEntry is one recorded administrative event.
type AuditEntry struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	SubjectID string                 `json:"subject_id"`
	ActorID   string                 `json:"actor_id"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"` // UTC
}

type AuditRepository interface {
	CreateAuditEntry(ctx context.Context, entry AuditEntry, exec ...DBExecutor) (AuditEntry, error)
	QueryAuditEntries(ctx context.Context, kind, subjectID string, exec ...DBExecutor) ([]AuditEntry, error)
}
