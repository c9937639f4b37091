package student

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	ErrNotFound = errors.New("student not found")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateStudent(ctx context.Context, s Student, exec ...core.DBExecutor) (Student, error)
		GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (Student, error)
		QueryStudents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Student, error)
		UpdateStudent(ctx context.Context, s Student, exec ...core.DBExecutor) (Student, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (svc *Service) Create(ctx context.Context, ns NewStudent) (Student, error) {
	now := NowFunc().UTC()
	active := true
	return svc.repo.CreateStudent(ctx, Student{
		Name:          ns.Name,
		BranchID:      ns.BranchID,
		Grade:         ns.Grade,
		AcademicYear:  ns.AcademicYear,
		GuardianName:  ns.GuardianName,
		GuardianEmail: ns.GuardianEmail,
		IsActive:      &active,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

func (svc *Service) GetByID(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, filter, ordering)
}

func (svc *Service) Update(ctx context.Context, id string, us UpdateStudent) (Student, error) {
	orig, err := svc.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	orig.Name = us.Name
	orig.Grade = us.Grade
	orig.AcademicYear = us.AcademicYear
	orig.GuardianName = us.GuardianName
	orig.GuardianEmail = us.GuardianEmail
	orig.IsActive = us.IsActive
	orig.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateStudent(ctx, orig)
}
