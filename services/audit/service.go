// Package auditsvc persists administrative events. Recording is best-effort:
// a failed write is logged and never fails the operation that triggered it.
package auditsvc

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
)

type Service struct {
	repo   core.AuditRepository
	logger core.Logger
}

var _ core.AuditLogger = (*Service)(nil)

var NowFunc = time.Now // mockable

func NewService(repo core.AuditRepository, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (svc *Service) Record(ctx context.Context, kind, subjectID string, payload map[string]interface{}, actorID string) {
	entry := core.AuditEntry{
		Kind:      kind,
		SubjectID: subjectID,
		ActorID:   actorID,
		Payload:   payload,
		CreatedAt: NowFunc().UTC(),
	}
	if _, err := svc.repo.CreateAuditEntry(ctx, entry); err != nil {
		svc.logger.Error("recording audit entry failed", err, map[string]interface{}{
			"kind":       kind,
			"subject_id": subjectID,
			"actor_id":   actorID,
		})
	}
}

// Query lists recorded entries, newest last.
func (svc *Service) Query(ctx context.Context, kind, subjectID string) ([]core.AuditEntry, error) {
	return svc.repo.QueryAuditEntries(ctx, kind, subjectID)
}
