package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/student"
)

type studentRepository struct {
	exec core.DBExecutor
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(exec core.DBExecutor) *studentRepository {
	return &studentRepository{exec: exec}
}

type studentRow struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	BranchID      int       `db:"branch_id"`
	Grade         int       `db:"grade"`
	AcademicYear  string    `db:"academic_year"`
	GuardianName  string    `db:"guardian_name"`
	GuardianEmail string    `db:"guardian_email"`
	IsActive      null.Bool `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

var studentColumns = []string{
	"id", "name", "branch_id", "grade", "academic_year",
	"guardian_name", "guardian_email", "is_active", "created_at", "updated_at",
}

func (repo studentRepository) pack(s student.Student) studentRow {
	return studentRow{
		ID:            s.ID,
		Name:          s.Name,
		BranchID:      s.BranchID,
		Grade:         s.Grade,
		AcademicYear:  s.AcademicYear,
		GuardianName:  s.GuardianName,
		GuardianEmail: s.GuardianEmail,
		IsActive:      null.BoolFromPtr(s.IsActive),
		CreatedAt:     s.CreatedAt.UTC(),
		UpdatedAt:     s.UpdatedAt.UTC(),
	}
}

func (repo studentRepository) unpack(row studentRow) student.Student {
	return student.Student{
		ID:            row.ID,
		Name:          row.Name,
		BranchID:      row.BranchID,
		Grade:         row.Grade,
		AcademicYear:  row.AcademicYear,
		GuardianName:  row.GuardianName,
		GuardianEmail: row.GuardianEmail,
		IsActive:      row.IsActive.Ptr(),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func (repo studentRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return student.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo studentRepository) CreateStudent(ctx context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	s.ID = uuid.New().String()
	row := repo.pack(s)

	query, args, err := psql.Insert("students").
		Columns(studentColumns...).
		Values(row.ID, row.Name, row.BranchID, row.Grade, row.AcademicYear,
			row.GuardianName, row.GuardianEmail, row.IsActive, row.CreatedAt, row.UpdatedAt).
		ToSql()
	if err != nil {
		return student.Student{}, errors.Wrap(err, "building query")
	}
	if _, err = getExec(repo.exec, exec).ExecContext(ctx, query, args...); err != nil {
		return student.Student{}, errors.Wrap(err, "creating student")
	}
	return s, nil
}

func (repo studentRepository) GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	query, args, err := psql.Select(studentColumns...).
		From("students").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return student.Student{}, errors.Wrap(err, "building query")
	}
	var row studentRow
	if err = getExec(repo.exec, exec).GetContext(ctx, &row, query, args...); err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "getting student")
	}
	return repo.unpack(row), nil
}

func (repo studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]student.Student, error) {
	qb := psql.Select(studentColumns...).From("students")
	if filter != nil {
		qb = branch.ApplyScope(qb, scopeFor(filter.BranchIDs), "branch_id")
		if filter.Search != "" {
			qb = qb.Where(sq.ILike{"name": "%" + filter.Search + "%"})
		}
		if filter.Grade != 0 {
			qb = qb.Where(sq.Eq{"grade": filter.Grade})
		}
		if filter.AcademicYear != "" {
			qb = qb.Where(sq.Eq{"academic_year": filter.AcademicYear})
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	for _, ord := range ordering {
		qb = qb.OrderBy(ord.String())
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []studentRow
	if err = getExec(repo.exec, exec).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, repo.unpack(row))
	}
	return students, nil
}

func (repo studentRepository) UpdateStudent(ctx context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	row := repo.pack(s)
	query, args, err := psql.Update("students").
		SetMap(map[string]interface{}{
			"name":           row.Name,
			"grade":          row.Grade,
			"academic_year":  row.AcademicYear,
			"guardian_name":  row.GuardianName,
			"guardian_email": row.GuardianEmail,
			"is_active":      row.IsActive,
			"updated_at":     row.UpdatedAt,
		}).
		Where(sq.Eq{"id": s.ID}).
		ToSql()
	if err != nil {
		return student.Student{}, errors.Wrap(err, "building query")
	}
	res, err := getExec(repo.exec, exec).ExecContext(ctx, query, args...)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "updating student")
	}
	if n, err := res.RowsAffected(); err != nil {
		return student.Student{}, errors.Wrap(err, "updating student")
	} else if n == 0 {
		return student.Student{}, student.ErrNotFound
	}
	return s, nil
}
