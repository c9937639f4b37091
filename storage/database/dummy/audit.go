package dummydb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
)

type auditRepository struct {
	db *auditTable
}

var _ core.AuditRepository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *DB) core.AuditRepository {
	return &auditRepository{db: db.audit}
}

func (repo *auditRepository) CreateAuditEntry(_ context.Context, entry core.AuditEntry, _ ...core.DBExecutor) (core.AuditEntry, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	entry.ID = uuid.New().String()
	repo.db.table = append(repo.db.table, entry)
	return entry, nil
}

func (repo *auditRepository) QueryAuditEntries(_ context.Context, kind, subjectID string, _ ...core.DBExecutor) ([]core.AuditEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var entries []core.AuditEntry
	for _, entry := range repo.db.table {
		if kind != "" && entry.Kind != kind {
			continue
		}
		if subjectID != "" && entry.SubjectID != subjectID {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
