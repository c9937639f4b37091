package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/fees"
)

type feesRepository struct {
	exec core.DBExecutor
}

var _ fees.Repository = (*feesRepository)(nil) // interface compliance check

func NewFeesRepository(exec core.DBExecutor) *feesRepository {
	return &feesRepository{exec: exec}
}

func (repo feesRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return fees.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// fee structures

type structureRow struct {
	ID           string          `db:"id"`
	BranchID     int             `db:"branch_id"`
	Grade        int             `db:"grade"`
	FeeType      string          `db:"fee_type"`
	Amount       decimal.Decimal `db:"amount"`
	AcademicYear string          `db:"academic_year"`
	DueDate      time.Time       `db:"due_date"`
	Recurrence   string          `db:"recurrence"`
	IsActive     bool            `db:"is_active"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

var structureColumns = []string{
	"id", "branch_id", "grade", "fee_type", "amount", "academic_year",
	"due_date", "recurrence", "is_active", "created_at", "updated_at",
}

func (repo feesRepository) unpackStructure(row structureRow) fees.FeeStructure {
	return fees.FeeStructure{
		ID:           row.ID,
		BranchID:     row.BranchID,
		Grade:        row.Grade,
		FeeType:      row.FeeType,
		Amount:       row.Amount,
		AcademicYear: row.AcademicYear,
		DueDate:      row.DueDate,
		Recurrence:   row.Recurrence,
		IsActive:     row.IsActive,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func (repo feesRepository) CreateStructure(ctx context.Context, fs fees.FeeStructure, exec ...core.DBExecutor) (fees.FeeStructure, error) {
	fs.ID = uuid.New().String()
	query, args, err := psql.Insert("fee_structures").
		Columns(structureColumns...).
		Values(fs.ID, fs.BranchID, fs.Grade, fs.FeeType, fs.Amount, fs.AcademicYear,
			fs.DueDate.UTC(), fs.Recurrence, fs.IsActive, fs.CreatedAt.UTC(), fs.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return fees.FeeStructure{}, errors.Wrap(err, "building query")
	}
	if _, err = getExec(repo.exec, exec).ExecContext(ctx, query, args...); err != nil {
		return fees.FeeStructure{}, errors.Wrap(err, "creating fee structure")
	}
	return fs, nil
}

func (repo feesRepository) QueryStructures(ctx context.Context, branchIDs []int, academicYear string, exec ...core.DBExecutor) ([]fees.FeeStructure, error) {
	qb := branch.ApplyScope(
		psql.Select(structureColumns...).From("fee_structures"),
		scopeFor(branchIDs), "branch_id",
	).OrderBy("created_at ASC")
	if academicYear != "" {
		qb = qb.Where(sq.Eq{"academic_year": academicYear})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []structureRow
	if err = getExec(repo.exec, exec).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying fee structures")
	}
	structures := make([]fees.FeeStructure, 0, len(rows))
	for _, row := range rows {
		structures = append(structures, repo.unpackStructure(row))
	}
	return structures, nil
}

func (repo feesRepository) GetStructure(ctx context.Context, id string, exec ...core.DBExecutor) (fees.FeeStructure, error) {
	query, args, err := psql.Select(structureColumns...).
		From("fee_structures").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fees.FeeStructure{}, errors.Wrap(err, "building query")
	}
	var row structureRow
	if err = getExec(repo.exec, exec).GetContext(ctx, &row, query, args...); err != nil {
		return fees.FeeStructure{}, repo.trapNoRowsErr(err, "getting fee structure")
	}
	return repo.unpackStructure(row), nil
}

// fee dues

type dueRow struct {
	ID             string          `db:"id"`
	StudentID      string          `db:"student_id"`
	FeeStructureID null.String     `db:"fee_structure_id"`
	BranchID       int             `db:"branch_id"`
	FeeType        string          `db:"fee_type"`
	AcademicYear   string          `db:"academic_year"`
	CurrentGrade   int             `db:"current_grade"`
	DueDate        time.Time       `db:"due_date"`
	OriginalAmount decimal.Decimal `db:"original_amount"`
	BalanceAmount  decimal.Decimal `db:"balance_amount"`
	Status         string          `db:"status"`
	Metadata       fees.Metadata   `db:"metadata"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

var dueColumns = []string{
	"id", "student_id", "fee_structure_id", "branch_id", "fee_type", "academic_year",
	"current_grade", "due_date", "original_amount", "balance_amount", "status",
	"metadata", "created_at", "updated_at",
}

func (repo feesRepository) unpackDue(row dueRow) fees.FeeDue {
	return fees.FeeDue{
		ID:             row.ID,
		StudentID:      row.StudentID,
		FeeStructureID: row.FeeStructureID.String,
		BranchID:       row.BranchID,
		FeeType:        row.FeeType,
		AcademicYear:   row.AcademicYear,
		CurrentGrade:   row.CurrentGrade,
		DueDate:        row.DueDate,
		OriginalAmount: row.OriginalAmount,
		BalanceAmount:  row.BalanceAmount,
		Status:         fees.Status(row.Status),
		Metadata:       row.Metadata,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func (repo feesRepository) CreateDue(ctx context.Context, due fees.FeeDue, exec ...core.DBExecutor) (fees.FeeDue, error) {
	due.ID = uuid.New().String()
	query, args, err := psql.Insert("fee_dues").
		Columns(dueColumns...).
		Values(due.ID, due.StudentID, null.NewString(due.FeeStructureID, due.FeeStructureID != ""),
			due.BranchID, due.FeeType, due.AcademicYear, due.CurrentGrade, due.DueDate.UTC(),
			due.OriginalAmount, due.BalanceAmount, string(due.Status), due.Metadata,
			due.CreatedAt.UTC(), due.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return fees.FeeDue{}, errors.Wrap(err, "building query")
	}
	if _, err = getExec(repo.exec, exec).ExecContext(ctx, query, args...); err != nil {
		return fees.FeeDue{}, errors.Wrap(err, "creating fee due")
	}
	return due, nil
}

func (repo feesRepository) GetDue(ctx context.Context, id string, exec ...core.DBExecutor) (fees.FeeDue, error) {
	query, args, err := psql.Select(dueColumns...).
		From("fee_dues").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fees.FeeDue{}, errors.Wrap(err, "building query")
	}
	var row dueRow
	if err = getExec(repo.exec, exec).GetContext(ctx, &row, query, args...); err != nil {
		return fees.FeeDue{}, repo.trapNoRowsErr(err, "getting fee due")
	}
	return repo.unpackDue(row), nil
}

func (repo feesRepository) QueryStudentDues(ctx context.Context, studentID string, filter *fees.DuesFilter, exec ...core.DBExecutor) ([]fees.FeeDue, error) {
	qb := psql.Select(dueColumns...).
		From("fee_dues").
		Where(sq.Eq{"student_id": studentID}).
		OrderBy("due_date ASC")
	if filter != nil && filter.AcademicYear != "" {
		qb = qb.Where(sq.Eq{"academic_year": filter.AcademicYear})
	}
	return repo.selectDues(ctx, qb, exec)
}

func (repo feesRepository) QueryOutstandingDues(ctx context.Context, filter fees.ReportFilter, exec ...core.DBExecutor) ([]fees.FeeDue, error) {
	qb := branch.ApplyScope(
		psql.Select(dueColumns...).From("fee_dues"),
		scopeFor(filter.BranchIDs), "branch_id",
	).
		Where(sq.Eq{"status": []string{string(fees.StatusPending), string(fees.StatusPartiallyPaid)}}).
		OrderBy("due_date ASC")
	if filter.AcademicYear != "" {
		qb = qb.Where(sq.Eq{"academic_year": filter.AcademicYear})
	}
	if filter.FeeType != "" {
		qb = qb.Where(sq.Eq{"fee_type": filter.FeeType})
	}
	return repo.selectDues(ctx, qb, exec)
}

func (repo feesRepository) selectDues(ctx context.Context, qb sq.SelectBuilder, exec []core.DBExecutor) ([]fees.FeeDue, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []dueRow
	if err = getExec(repo.exec, exec).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying fee dues")
	}
	dues := make([]fees.FeeDue, 0, len(rows))
	for _, row := range rows {
		dues = append(dues, repo.unpackDue(row))
	}
	return dues, nil
}

// UpdateDueBalance only applies while the stored balance still equals
// expectedBalance, so concurrent writers cannot double-spend a due.
func (repo feesRepository) UpdateDueBalance(ctx context.Context, dueID string, expectedBalance, newBalance decimal.Decimal, status fees.Status, metadata fees.Metadata, exec ...core.DBExecutor) (fees.FeeDue, error) {
	qb := psql.Update("fee_dues").
		Set("balance_amount", newBalance).
		Set("status", string(status)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": dueID, "balance_amount": expectedBalance}).
		Suffix("RETURNING " + joinColumns(dueColumns))
	if metadata != nil {
		qb = qb.Set("metadata", metadata)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return fees.FeeDue{}, errors.Wrap(err, "building query")
	}
	var row dueRow
	if err = getExec(repo.exec, exec).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Cause(err) != sql.ErrNoRows {
			return fees.FeeDue{}, errors.Wrap(err, "updating fee due balance")
		}
		// the row is either gone or its balance moved underneath us
		if _, getErr := repo.GetDue(ctx, dueID, exec...); getErr != nil {
			return fees.FeeDue{}, getErr
		}
		return fees.FeeDue{}, fees.ErrStaleBalance
	}
	return repo.unpackDue(row), nil
}

// fee payments

type paymentRow struct {
	ID             string          `db:"id"`
	StudentID      string          `db:"student_id"`
	FeeStructureID null.String     `db:"fee_structure_id"`
	AmountPaid     decimal.Decimal `db:"amount_paid"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	LateFee        decimal.Decimal `db:"late_fee"`
	TotalAmount    decimal.Decimal `db:"total_amount"`
	PaymentDate    time.Time       `db:"payment_date"`
	PaymentStatus  string          `db:"payment_status"`
	PaymentMethod  string          `db:"payment_method"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

var paymentColumns = []string{
	"id", "student_id", "fee_structure_id", "amount_paid", "discount_amount", "late_fee",
	"total_amount", "payment_date", "payment_status", "payment_method", "created_at", "updated_at",
}

func (repo feesRepository) unpackPayment(row paymentRow) fees.FeePayment {
	return fees.FeePayment{
		ID:             row.ID,
		StudentID:      row.StudentID,
		FeeStructureID: row.FeeStructureID.String,
		AmountPaid:     row.AmountPaid,
		DiscountAmount: row.DiscountAmount,
		LateFee:        row.LateFee,
		TotalAmount:    row.TotalAmount,
		PaymentDate:    row.PaymentDate,
		PaymentStatus:  row.PaymentStatus,
		PaymentMethod:  row.PaymentMethod,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func (repo feesRepository) CreatePayment(ctx context.Context, p fees.FeePayment, exec ...core.DBExecutor) (fees.FeePayment, error) {
	p.ID = uuid.New().String()
	query, args, err := psql.Insert("fee_payments").
		Columns(paymentColumns...).
		Values(p.ID, p.StudentID, null.NewString(p.FeeStructureID, p.FeeStructureID != ""),
			p.AmountPaid, p.DiscountAmount, p.LateFee, p.TotalAmount, p.PaymentDate.UTC(),
			p.PaymentStatus, p.PaymentMethod, p.CreatedAt.UTC(), p.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return fees.FeePayment{}, errors.Wrap(err, "building query")
	}
	if _, err = getExec(repo.exec, exec).ExecContext(ctx, query, args...); err != nil {
		return fees.FeePayment{}, errors.Wrap(err, "creating fee payment")
	}
	return p, nil
}

func (repo feesRepository) GetPayment(ctx context.Context, id string, exec ...core.DBExecutor) (fees.FeePayment, error) {
	query, args, err := psql.Select(paymentColumns...).
		From("fee_payments").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fees.FeePayment{}, errors.Wrap(err, "building query")
	}
	var row paymentRow
	if err = getExec(repo.exec, exec).GetContext(ctx, &row, query, args...); err != nil {
		return fees.FeePayment{}, repo.trapNoRowsErr(err, "getting fee payment")
	}
	return repo.unpackPayment(row), nil
}

func (repo feesRepository) AllocatedTotal(ctx context.Context, paymentID string, exec ...core.DBExecutor) (decimal.Decimal, error) {
	query, args, err := psql.Select("COALESCE(SUM(amount), 0)").
		From("fee_payment_allocations").
		Where(sq.Eq{"payment_id": paymentID}).
		ToSql()
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "building query")
	}
	var total decimal.Decimal
	if err = getExec(repo.exec, exec).GetContext(ctx, &total, query, args...); err != nil {
		return decimal.Zero, errors.Wrap(err, "summing allocations")
	}
	return total, nil
}

func (repo feesRepository) CreateAllocation(ctx context.Context, a fees.Allocation, exec ...core.DBExecutor) (fees.Allocation, error) {
	a.ID = uuid.New().String()
	query, args, err := psql.Insert("fee_payment_allocations").
		Columns("id", "payment_id", "due_id", "amount", "created_at").
		Values(a.ID, a.PaymentID, a.DueID, a.Amount, a.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return fees.Allocation{}, errors.Wrap(err, "building query")
	}
	if _, err = getExec(repo.exec, exec).ExecContext(ctx, query, args...); err != nil {
		return fees.Allocation{}, errors.Wrap(err, "creating allocation")
	}
	return a, nil
}
