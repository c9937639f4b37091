package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

type auditRepository struct {
	exec core.DBExecutor
}

var _ core.AuditRepository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(exec core.DBExecutor) *auditRepository {
	return &auditRepository{exec: exec}
}

type auditRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	SubjectID string    `db:"subject_id"`
	ActorID   string    `db:"actor_id"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (repo auditRepository) CreateAuditEntry(ctx context.Context, entry core.AuditEntry, exec ...core.DBExecutor) (core.AuditEntry, error) {
	entry.ID = uuid.New().String()
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return core.AuditEntry{}, errors.Wrap(err, "encoding payload")
	}

	query, args, err := psql.Insert("audit_log").
		Columns("id", "kind", "subject_id", "actor_id", "payload", "created_at").
		Values(entry.ID, entry.Kind, entry.SubjectID, entry.ActorID, payload, entry.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return core.AuditEntry{}, errors.Wrap(err, "building query")
	}
	if _, err = getExec(repo.exec, exec).ExecContext(ctx, query, args...); err != nil {
		return core.AuditEntry{}, errors.Wrap(err, "creating audit entry")
	}
	return entry, nil
}

func (repo auditRepository) QueryAuditEntries(ctx context.Context, kind, subjectID string, exec ...core.DBExecutor) ([]core.AuditEntry, error) {
	qb := psql.Select("id", "kind", "subject_id", "actor_id", "payload", "created_at").
		From("audit_log").
		OrderBy("created_at ASC")
	if kind != "" {
		qb = qb.Where(sq.Eq{"kind": kind})
	}
	if subjectID != "" {
		qb = qb.Where(sq.Eq{"subject_id": subjectID})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []auditRow
	if err = getExec(repo.exec, exec).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying audit entries")
	}

	entries := make([]core.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry := core.AuditEntry{
			ID:        row.ID,
			Kind:      row.Kind,
			SubjectID: row.SubjectID,
			ActorID:   row.ActorID,
			CreatedAt: row.CreatedAt,
		}
		if len(row.Payload) > 0 {
			if err = json.Unmarshal(row.Payload, &entry.Payload); err != nil {
				return nil, errors.Wrap(err, "decoding payload")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
