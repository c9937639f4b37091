package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
)

type branchRepository struct {
	db *branchTable
}

var _ branch.Repository = (*branchRepository)(nil) // interface compliance check

func NewBranchRepository(db *DB) branch.Repository {
	return &branchRepository{db: db.branch}
}

func (repo *branchRepository) CreateBranch(_ context.Context, br branch.Branch, _ ...core.DBExecutor) (branch.Branch, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.pkCount++
	br.ID = repo.db.pkCount
	now := time.Now().UTC()
	br.CreatedAt, br.UpdatedAt = now, now
	repo.db.table[br.ID] = &br
	return br, nil
}

func (repo *branchRepository) GetBranch(_ context.Context, id int, _ ...core.DBExecutor) (branch.Branch, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if br, ok := repo.db.table[id]; ok && !br.Deleted {
		return *br, nil
	}
	return branch.Branch{}, branch.ErrNotFound
}

func (repo *branchRepository) QueryBranches(_ context.Context, ids []int, _ ...core.DBExecutor) ([]branch.Branch, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	branches := make([]branch.Branch, 0, len(repo.db.table))
	for _, br := range repo.db.table {
		if br.Deleted {
			continue
		}
		if ids != nil && !containsInt(ids, br.ID) {
			continue
		}
		branches = append(branches, *br)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].ID < branches[j].ID })
	return branches, nil
}

func (repo *branchRepository) ArchiveBranch(_ context.Context, id int, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	br, ok := repo.db.table[id]
	if !ok || br.Deleted {
		return branch.ErrNotFound
	}
	br.Deleted = true
	br.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *branchRepository) ChildBranchIDs(_ context.Context, parentID int, _ ...core.DBExecutor) ([]int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var ids []int
	for _, br := range repo.db.table {
		if br.Deleted || br.ParentID == nil || *br.ParentID != parentID {
			continue
		}
		ids = append(ids, br.ID)
	}
	sort.Ints(ids)
	return ids, nil
}

func containsInt(haystack []int, needle int) bool {
	for _, id := range haystack {
		if id == needle {
			return true
		}
	}
	return false
}
