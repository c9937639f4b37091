package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/student"
)

type studentRepository struct {
	db *studentTable
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db.student}
}

func (repo *studentRepository) CreateStudent(_ context.Context, s student.Student, _ ...core.DBExecutor) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s.ID = uuid.New().String()
	repo.db.table[s.ID] = &s
	return s, nil
}

func (repo *studentRepository) GetStudent(_ context.Context, id string, _ ...core.DBExecutor) (student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.table[id]; ok {
		return *s, nil
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) QueryStudents(_ context.Context, filter *student.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := make([]student.Student, 0, len(repo.db.table))
	for _, s := range repo.db.table {
		if filter != nil && !matchStudent(*s, filter) {
			continue
		}
		students = append(students, *s)
	}
	sortStudents(students, ordering)
	return students, nil
}

func matchStudent(s student.Student, filter *student.QueryFilter) bool {
	if filter.Search != "" &&
		!strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter.Search)) {
		return false
	}
	if filter.Grade != 0 && s.Grade != filter.Grade {
		return false
	}
	if filter.AcademicYear != "" && s.AcademicYear != filter.AcademicYear {
		return false
	}
	if filter.IsActive != nil && (s.IsActive == nil || *s.IsActive != *filter.IsActive) {
		return false
	}
	if filter.BranchIDs != nil && !containsInt(filter.BranchIDs, s.BranchID) {
		return false
	}
	return true
}

func sortStudents(students []student.Student, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	ord := ordering[0]
	sort.Slice(students, func(i, j int) bool {
		a, b := students[i], students[j]
		if !ord.Ascending {
			a, b = b, a
		}
		switch ord.Field {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "grade":
			return a.Grade < b.Grade
		default:
			return a.Name < b.Name
		}
	})
}

func (repo *studentRepository) UpdateStudent(_ context.Context, s student.Student, _ ...core.DBExecutor) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[s.ID]; !ok {
		return student.Student{}, student.ErrNotFound
	}
	repo.db.table[s.ID] = &s
	return s, nil
}
