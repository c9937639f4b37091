package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/fees"
)

type feesRepository struct {
	db *feesTables
}

var _ fees.Repository = (*feesRepository)(nil) // interface compliance check

func NewFeesRepository(db *DB) fees.Repository {
	return &feesRepository{db: db.fees}
}

func (repo *feesRepository) CreateStructure(_ context.Context, fs fees.FeeStructure, _ ...core.DBExecutor) (fees.FeeStructure, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	fs.ID = uuid.New().String()
	repo.db.structures[fs.ID] = &fs
	return fs, nil
}

func (repo *feesRepository) QueryStructures(_ context.Context, branchIDs []int, academicYear string, _ ...core.DBExecutor) ([]fees.FeeStructure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	structures := make([]fees.FeeStructure, 0, len(repo.db.structures))
	for _, fs := range repo.db.structures {
		if branchIDs != nil && !containsInt(branchIDs, fs.BranchID) {
			continue
		}
		if academicYear != "" && fs.AcademicYear != academicYear {
			continue
		}
		structures = append(structures, *fs)
	}
	sort.Slice(structures, func(i, j int) bool {
		return structures[i].CreatedAt.Before(structures[j].CreatedAt)
	})
	return structures, nil
}

func (repo *feesRepository) GetStructure(_ context.Context, id string, _ ...core.DBExecutor) (fees.FeeStructure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if fs, ok := repo.db.structures[id]; ok {
		return *fs, nil
	}
	return fees.FeeStructure{}, fees.ErrNotFound
}

func (repo *feesRepository) CreateDue(_ context.Context, due fees.FeeDue, _ ...core.DBExecutor) (fees.FeeDue, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	due.ID = uuid.New().String()
	repo.db.dues[due.ID] = &due
	return due, nil
}

func (repo *feesRepository) GetDue(_ context.Context, id string, _ ...core.DBExecutor) (fees.FeeDue, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if due, ok := repo.db.dues[id]; ok {
		return *due, nil
	}
	return fees.FeeDue{}, fees.ErrNotFound
}

func (repo *feesRepository) QueryStudentDues(_ context.Context, studentID string, filter *fees.DuesFilter, _ ...core.DBExecutor) ([]fees.FeeDue, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var dues []fees.FeeDue
	for _, due := range repo.db.dues {
		if due.StudentID != studentID {
			continue
		}
		if filter != nil && filter.AcademicYear != "" && due.AcademicYear != filter.AcademicYear {
			continue
		}
		dues = append(dues, *due)
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].DueDate.Before(dues[j].DueDate) })
	return dues, nil
}

func (repo *feesRepository) QueryOutstandingDues(_ context.Context, filter fees.ReportFilter, _ ...core.DBExecutor) ([]fees.FeeDue, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var dues []fees.FeeDue
	for _, due := range repo.db.dues {
		if due.Status != fees.StatusPending && due.Status != fees.StatusPartiallyPaid {
			continue
		}
		if filter.AcademicYear != "" && due.AcademicYear != filter.AcademicYear {
			continue
		}
		if filter.FeeType != "" && due.FeeType != filter.FeeType {
			continue
		}
		if filter.BranchIDs != nil && !containsInt(filter.BranchIDs, due.BranchID) {
			continue
		}
		dues = append(dues, *due)
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].DueDate.Before(dues[j].DueDate) })
	return dues, nil
}

func (repo *feesRepository) UpdateDueBalance(_ context.Context, dueID string, expectedBalance, newBalance decimal.Decimal, status fees.Status, metadata fees.Metadata, _ ...core.DBExecutor) (fees.FeeDue, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	due, ok := repo.db.dues[dueID]
	if !ok {
		return fees.FeeDue{}, fees.ErrNotFound
	}
	if !due.BalanceAmount.Equal(expectedBalance) {
		return fees.FeeDue{}, fees.ErrStaleBalance
	}
	due.BalanceAmount = newBalance
	due.Status = status
	if metadata != nil {
		due.Metadata = metadata
	}
	due.UpdatedAt = time.Now().UTC()
	return *due, nil
}

func (repo *feesRepository) CreatePayment(_ context.Context, p fees.FeePayment, _ ...core.DBExecutor) (fees.FeePayment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p.ID = uuid.New().String()
	repo.db.payments[p.ID] = &p
	return p, nil
}

func (repo *feesRepository) GetPayment(_ context.Context, id string, _ ...core.DBExecutor) (fees.FeePayment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p, ok := repo.db.payments[id]; ok {
		return *p, nil
	}
	return fees.FeePayment{}, fees.ErrNotFound
}

func (repo *feesRepository) AllocatedTotal(_ context.Context, paymentID string, _ ...core.DBExecutor) (decimal.Decimal, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	total := decimal.Zero
	for _, alloc := range repo.db.allocations {
		if alloc.PaymentID == paymentID {
			total = total.Add(alloc.Amount)
		}
	}
	return total, nil
}

func (repo *feesRepository) CreateAllocation(_ context.Context, a fees.Allocation, _ ...core.DBExecutor) (fees.Allocation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	a.ID = uuid.New().String()
	repo.db.allocations[a.ID] = &a
	return a, nil
}
