package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
)

type branchRepository struct {
	exec core.DBExecutor
}

var _ branch.Repository = (*branchRepository)(nil) // interface compliance check

func NewBranchRepository(exec core.DBExecutor) *branchRepository {
	return &branchRepository{exec: exec}
}

type branchRow struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	ParentID  null.Int  `db:"parent_branch_id"`
	Deleted   bool      `db:"deleted"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

var branchColumns = []string{"id", "name", "parent_branch_id", "deleted", "created_at", "updated_at"}

func (repo branchRepository) unpack(row branchRow) branch.Branch {
	return branch.Branch{
		ID:        row.ID,
		Name:      row.Name,
		ParentID:  intPtrFromNull(row.ParentID),
		Deleted:   row.Deleted,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func (repo branchRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return branch.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo branchRepository) CreateBranch(ctx context.Context, br branch.Branch, exec ...core.DBExecutor) (branch.Branch, error) {
	query, args, err := psql.Insert("branches").
		Columns("name", "parent_branch_id").
		Values(br.Name, nullIntFromPtr(br.ParentID)).
		Suffix("RETURNING id, name, parent_branch_id, deleted, created_at, updated_at").
		ToSql()
	if err != nil {
		return branch.Branch{}, errors.Wrap(err, "building query")
	}
	var row branchRow
	if err = getExec(repo.exec, exec).GetContext(ctx, &row, query, args...); err != nil {
		return branch.Branch{}, errors.Wrap(err, "creating branch")
	}
	return repo.unpack(row), nil
}

func (repo branchRepository) GetBranch(ctx context.Context, id int, exec ...core.DBExecutor) (branch.Branch, error) {
	query, args, err := psql.Select(branchColumns...).
		From("branches").
		Where(sq.Eq{"id": id, "deleted": false}).
		ToSql()
	if err != nil {
		return branch.Branch{}, errors.Wrap(err, "building query")
	}
	var row branchRow
	if err = getExec(repo.exec, exec).GetContext(ctx, &row, query, args...); err != nil {
		return branch.Branch{}, repo.trapNoRowsErr(err, "getting branch")
	}
	return repo.unpack(row), nil
}

func (repo branchRepository) QueryBranches(ctx context.Context, ids []int, exec ...core.DBExecutor) ([]branch.Branch, error) {
	qb := psql.Select(branchColumns...).
		From("branches").
		Where(sq.Eq{"deleted": false}).
		OrderBy("id ASC")
	if ids != nil {
		qb = qb.Where(sq.Eq{"id": ids})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []branchRow
	if err = getExec(repo.exec, exec).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying branches")
	}
	branches := make([]branch.Branch, 0, len(rows))
	for _, row := range rows {
		branches = append(branches, repo.unpack(row))
	}
	return branches, nil
}

func (repo branchRepository) ArchiveBranch(ctx context.Context, id int, exec ...core.DBExecutor) error {
	query, args, err := psql.Update("branches").
		Set("deleted", true).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id, "deleted": false}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := getExec(repo.exec, exec).ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "archiving branch")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "archiving branch")
	} else if n == 0 {
		return branch.ErrNotFound
	}
	return nil
}

func (repo branchRepository) ChildBranchIDs(ctx context.Context, parentID int, exec ...core.DBExecutor) ([]int, error) {
	query, args, err := psql.Select("id").
		From("branches").
		Where(sq.Eq{"parent_branch_id": parentID, "deleted": false}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var ids []int
	if err = getExec(repo.exec, exec).SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying child branches")
	}
	return ids, nil
}
