package fees

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound                 = errors.New("record not found")
	ErrAllocationExceedsPayment = errors.New("allocations exceed the payment's unallocated amount")
	ErrOverAllocation           = errors.New("allocation exceeds the due's remaining balance")
	ErrWaiveInvalidState        = errors.New("due is already settled and cannot be waived")
	ErrStaleBalance             = errors.New("due balance changed concurrently; retry the batch")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateStructure(ctx context.Context, fs FeeStructure, exec ...core.DBExecutor) (FeeStructure, error)
		QueryStructures(ctx context.Context, branchIDs []int, academicYear string, exec ...core.DBExecutor) ([]FeeStructure, error)
		GetStructure(ctx context.Context, id string, exec ...core.DBExecutor) (FeeStructure, error)

		CreateDue(ctx context.Context, due FeeDue, exec ...core.DBExecutor) (FeeDue, error)
		GetDue(ctx context.Context, id string, exec ...core.DBExecutor) (FeeDue, error)
		// QueryStudentDues narrows by filter.AcademicYear only; the service
		// applies filter.Statuses after deriving read-time statuses.
		QueryStudentDues(ctx context.Context, studentID string, filter *DuesFilter, exec ...core.DBExecutor) ([]FeeDue, error)
		// QueryOutstandingDues returns dues with status Pending or PartiallyPaid,
		// optionally narrowed by the filter.
		QueryOutstandingDues(ctx context.Context, filter ReportFilter, exec ...core.DBExecutor) ([]FeeDue, error)
		// UpdateDueBalance conditionally updates a due's balance, status and
		// (when metadata is non-nil) metadata. The update only applies while
		// the stored balance still equals expectedBalance; otherwise it fails
		// with ErrStaleBalance and changes nothing.
		UpdateDueBalance(ctx context.Context, dueID string, expectedBalance, newBalance decimal.Decimal, status Status, metadata Metadata, exec ...core.DBExecutor) (FeeDue, error)

		CreatePayment(ctx context.Context, p FeePayment, exec ...core.DBExecutor) (FeePayment, error)
		GetPayment(ctx context.Context, id string, exec ...core.DBExecutor) (FeePayment, error)
		// AllocatedTotal sums the amounts already allocated from a payment.
		AllocatedTotal(ctx context.Context, paymentID string, exec ...core.DBExecutor) (decimal.Decimal, error)
		CreateAllocation(ctx context.Context, a Allocation, exec ...core.DBExecutor) (Allocation, error)
	}

	// Service is the fee dues engine: balances, allocations, waivers, aging.
	Service struct {
		db     core.DB
		repo   Repository
		audit  core.AuditLogger
		logger core.Logger
	}
)

func NewService(db core.DB, repo Repository, audit core.AuditLogger, logger core.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		audit:  audit,
		logger: logger,
	}
}

// readStatus overlays the derived status for presentation. Waived dues keep
// their terminal status; everything else is recomputed from the balance.
func readStatus(due FeeDue, now time.Time) Status {
	if due.Status == StatusWaived {
		return StatusWaived
	}
	return DeriveStatus(due.BalanceAmount, due.OriginalAmount, due.DueDate, now)
}

// GetStudentDues loads a student's dues grouped by fee type, with per-group
// and overall totals. Read-only and safe to call concurrently.
func (svc *Service) GetStudentDues(ctx context.Context, studentID string, filter *DuesFilter) (StudentDues, error) {
	dues, err := svc.repo.QueryStudentDues(ctx, studentID, filter)
	if err != nil {
		return StudentDues{}, errors.Wrap(err, "querying student dues")
	}

	now := NowFunc().UTC()
	out := StudentDues{
		StudentID:  studentID,
		DuesByType: make(map[string]TypeSummary),
		Totals: TypeSummary{
			TotalOriginal: decimal.Zero,
			TotalBalance:  decimal.Zero,
			TotalPaid:     decimal.Zero,
		},
	}
	for _, due := range dues {
		due.Status = readStatus(due, now)
		if filter != nil && len(filter.Statuses) > 0 && !statusIn(due.Status, filter.Statuses) {
			continue
		}

		group, ok := out.DuesByType[due.FeeType]
		if !ok {
			group = TypeSummary{
				FeeType:       due.FeeType,
				TotalOriginal: decimal.Zero,
				TotalBalance:  decimal.Zero,
				TotalPaid:     decimal.Zero,
			}
		}
		group.Count++
		group.TotalOriginal = group.TotalOriginal.Add(due.OriginalAmount)
		group.TotalBalance = group.TotalBalance.Add(due.BalanceAmount)
		group.TotalPaid = group.TotalPaid.Add(due.PaidAmount())
		group.Dues = append(group.Dues, due)
		out.DuesByType[due.FeeType] = group

		out.Totals.Count++
		out.Totals.TotalOriginal = out.Totals.TotalOriginal.Add(due.OriginalAmount)
		out.Totals.TotalBalance = out.Totals.TotalBalance.Add(due.BalanceAmount)
		out.Totals.TotalPaid = out.Totals.TotalPaid.Add(due.PaidAmount())
	}

	// rounding happens once, at the aggregation boundary
	for feeType, group := range out.DuesByType {
		group.TotalOriginal = group.TotalOriginal.Round(2)
		group.TotalBalance = group.TotalBalance.Round(2)
		group.TotalPaid = group.TotalPaid.Round(2)
		out.DuesByType[feeType] = group
	}
	out.Totals.TotalOriginal = out.Totals.TotalOriginal.Round(2)
	out.Totals.TotalBalance = out.Totals.TotalBalance.Round(2)
	out.Totals.TotalPaid = out.Totals.TotalPaid.Round(2)
	return out, nil
}

func statusIn(status Status, statuses []Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// ApplyPaymentToDues distributes a payment across the given dues, in order.
// The whole batch is one atomic unit: any violation aborts it and nothing is
// persisted. On ErrStaleBalance the caller retries the whole batch.
func (svc *Service) ApplyPaymentToDues(ctx context.Context, paymentID string, dueIDs []string, amounts []decimal.Decimal, actorID string) error {
	if len(dueIDs) == 0 || len(dueIDs) != len(amounts) {
		return core.NewValidationError(errors.New("dueIds and amounts must be non-empty and of equal length"))
	}
	batchTotal := decimal.Zero
	for _, amount := range amounts {
		if !amount.IsPositive() {
			return core.NewValidationError(errors.New("every allocation amount must be positive"))
		}
		batchTotal = batchTotal.Add(amount)
	}

	now := NowFunc().UTC()
	err := svc.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		payment, err := svc.repo.GetPayment(ctx, paymentID, exec)
		if err != nil {
			return errors.Wrap(err, "loading payment")
		}
		allocated, err := svc.repo.AllocatedTotal(ctx, paymentID, exec)
		if err != nil {
			return errors.Wrap(err, "summing prior allocations")
		}
		if batchTotal.GreaterThan(payment.TotalAmount.Sub(allocated)) {
			return ErrAllocationExceedsPayment
		}

		// Validate the whole batch before touching anything, tracking working
		// balances so repeated due IDs within one batch stay consistent.
		type step struct {
			due              FeeDue
			amount           decimal.Decimal
			expected, newBal decimal.Decimal
		}
		steps := make([]step, 0, len(dueIDs))
		working := make(map[string]decimal.Decimal, len(dueIDs))
		loaded := make(map[string]FeeDue, len(dueIDs))
		for i, dueID := range dueIDs {
			due, ok := loaded[dueID]
			if !ok {
				if due, err = svc.repo.GetDue(ctx, dueID, exec); err != nil {
					return errors.Wrapf(err, "loading due %s", dueID)
				}
				loaded[dueID] = due
				working[dueID] = due.BalanceAmount
			}
			balance := working[dueID]
			if due.Settled() || amounts[i].GreaterThan(balance) {
				return ErrOverAllocation
			}
			newBal := balance.Sub(amounts[i])
			steps = append(steps, step{due: due, amount: amounts[i], expected: balance, newBal: newBal})
			working[dueID] = newBal
		}

		for _, st := range steps {
			status := storedStatus(st.newBal, st.due.OriginalAmount)
			if _, err := svc.repo.UpdateDueBalance(ctx, st.due.ID, st.expected, st.newBal, status, nil, exec); err != nil {
				return errors.Wrapf(err, "updating due %s", st.due.ID)
			}
			alloc := Allocation{
				PaymentID: paymentID,
				DueID:     st.due.ID,
				Amount:    st.amount,
				CreatedAt: now,
			}
			if _, err := svc.repo.CreateAllocation(ctx, alloc, exec); err != nil {
				return errors.Wrapf(err, "recording allocation for due %s", st.due.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	svc.audit.Record(ctx, core.AuditKindAllocation, paymentID, map[string]interface{}{
		"due_ids": dueIDs,
		"total":   batchTotal.Round(2).String(),
	}, actorID)
	return nil
}

// WaiveDue cancels a due's remaining balance without payment. Terminal and
// irreversible; the waiver audit trail goes into the due's metadata and the
// audit log (the latter best-effort).
func (svc *Service) WaiveDue(ctx context.Context, dueID, reason, actorID string) (FeeDue, error) {
	reason = core.CleanString(reason)
	if reason == "" {
		return FeeDue{}, core.NewValidationError(errors.New("a waiver reason is required"),
			core.FieldError{Field: "reason", Error: "this field is required"})
	}

	now := NowFunc().UTC()
	var updated FeeDue
	var balanceBefore decimal.Decimal
	err := svc.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		due, err := svc.repo.GetDue(ctx, dueID, exec)
		if err != nil {
			return errors.Wrap(err, "loading due")
		}
		if due.Settled() {
			return ErrWaiveInvalidState
		}
		balanceBefore = due.BalanceAmount

		metadata := due.Metadata.Merge(Metadata{
			"waived_reason": reason,
			"waived_by":     actorID,
			"waived_at":     now.Format(time.RFC3339),
		})
		updated, err = svc.repo.UpdateDueBalance(ctx, dueID, due.BalanceAmount, decimal.Zero, StatusWaived, metadata, exec)
		return errors.Wrap(err, "waiving due")
	})
	if err != nil {
		return FeeDue{}, err
	}

	svc.audit.Record(ctx, core.AuditKindWaiver, dueID, map[string]interface{}{
		"amount_before": balanceBefore.Round(2).String(),
		"amount_after":  "0",
		"reason":        reason,
	}, actorID)
	return updated, nil
}

// GetOverdueFees buckets every past-due Pending/PartiallyPaid balance by
// elapsed days and fee type, all against one "now" snapshot.
func (svc *Service) GetOverdueFees(ctx context.Context, filter ReportFilter) (AgingSummary, error) {
	dues, err := svc.repo.QueryOutstandingDues(ctx, filter)
	if err != nil {
		return AgingSummary{}, errors.Wrap(err, "querying outstanding dues")
	}
	return buildAging(dues, NowFunc().UTC()), nil
}

// GenerateDuesReport composes total outstanding, the per-type summary and the
// aging buckets into one structure from a single consistent read.
func (svc *Service) GenerateDuesReport(ctx context.Context, filter ReportFilter) (DuesReport, error) {
	dues, err := svc.repo.QueryOutstandingDues(ctx, filter)
	if err != nil {
		return DuesReport{}, errors.Wrap(err, "querying outstanding dues")
	}

	now := NowFunc().UTC()
	report := DuesReport{
		GeneratedAt:      now,
		TotalOutstanding: decimal.Zero,
		ByType:           make(map[string]TypeSummary),
	}
	for _, due := range dues {
		report.TotalOutstanding = report.TotalOutstanding.Add(due.BalanceAmount)

		group, ok := report.ByType[due.FeeType]
		if !ok {
			group = TypeSummary{
				FeeType:       due.FeeType,
				TotalOriginal: decimal.Zero,
				TotalBalance:  decimal.Zero,
				TotalPaid:     decimal.Zero,
			}
		}
		group.Count++
		group.TotalOriginal = group.TotalOriginal.Add(due.OriginalAmount)
		group.TotalBalance = group.TotalBalance.Add(due.BalanceAmount)
		group.TotalPaid = group.TotalPaid.Add(due.PaidAmount())
		report.ByType[due.FeeType] = group
	}
	for feeType, group := range report.ByType {
		group.TotalOriginal = group.TotalOriginal.Round(2)
		group.TotalBalance = group.TotalBalance.Round(2)
		group.TotalPaid = group.TotalPaid.Round(2)
		report.ByType[feeType] = group
	}
	report.TotalOutstanding = report.TotalOutstanding.Round(2)
	report.Aging = buildAging(dues, now)
	return report, nil
}

// CreateStructure registers a new fee structure.
func (svc *Service) CreateStructure(ctx context.Context, nfs NewFeeStructure) (FeeStructure, error) {
	now := NowFunc().UTC()
	return svc.repo.CreateStructure(ctx, FeeStructure{
		BranchID:     nfs.BranchID,
		Grade:        nfs.Grade,
		FeeType:      nfs.FeeType,
		Amount:       nfs.Amount,
		AcademicYear: nfs.AcademicYear,
		DueDate:      nfs.DueDate,
		Recurrence:   nfs.Recurrence,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// QueryStructures lists fee structures within the given branches.
func (svc *Service) QueryStructures(ctx context.Context, branchIDs []int, academicYear string) ([]FeeStructure, error) {
	return svc.repo.QueryStructures(ctx, branchIDs, academicYear)
}

// AssignStructure instantiates a due from a structure for each student.
func (svc *Service) AssignStructure(ctx context.Context, structureID string, studentIDs ...string) ([]FeeDue, error) {
	structure, err := svc.repo.GetStructure(ctx, structureID)
	if err != nil {
		return nil, errors.Wrap(err, "loading fee structure")
	}

	now := NowFunc().UTC()
	dues := make([]FeeDue, 0, len(studentIDs))
	err = svc.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		for _, studentID := range studentIDs {
			due, err := svc.repo.CreateDue(ctx, FeeDue{
				StudentID:      studentID,
				FeeStructureID: structure.ID,
				BranchID:       structure.BranchID,
				FeeType:        structure.FeeType,
				AcademicYear:   structure.AcademicYear,
				CurrentGrade:   structure.Grade,
				DueDate:        structure.DueDate,
				OriginalAmount: structure.Amount,
				BalanceAmount:  structure.Amount,
				Status:         StatusPending,
				CreatedAt:      now,
				UpdatedAt:      now,
			}, exec)
			if err != nil {
				return errors.Wrapf(err, "assigning due to student %s", studentID)
			}
			dues = append(dues, due)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dues, nil
}

// RecordPayment stores a receipt. TotalAmount is computed, never trusted.
func (svc *Service) RecordPayment(ctx context.Context, np NewFeePayment) (FeePayment, error) {
	now := NowFunc().UTC()
	return svc.repo.CreatePayment(ctx, FeePayment{
		StudentID:      np.StudentID,
		FeeStructureID: np.FeeStructureID,
		AmountPaid:     np.AmountPaid,
		DiscountAmount: np.DiscountAmount,
		LateFee:        np.LateFee,
		TotalAmount:    np.AmountPaid.Add(np.LateFee).Sub(np.DiscountAmount),
		PaymentDate:    np.PaymentDate,
		PaymentStatus:  "Completed",
		PaymentMethod:  np.PaymentMethod,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

// GetPayment loads a single receipt.
func (svc *Service) GetPayment(ctx context.Context, id string) (FeePayment, error) {
	return svc.repo.GetPayment(ctx, id)
}

// GetStructure loads a single fee structure.
func (svc *Service) GetStructure(ctx context.Context, id string) (FeeStructure, error) {
	return svc.repo.GetStructure(ctx, id)
}

// GetDue loads a single due with its read-time status.
func (svc *Service) GetDue(ctx context.Context, id string) (FeeDue, error) {
	due, err := svc.repo.GetDue(ctx, id)
	if err != nil {
		return FeeDue{}, err
	}
	due.Status = readStatus(due, NowFunc().UTC())
	return due, nil
}

// aging bucket bounds, inclusive; MaxDays -1 is open-ended
var agingBounds = []AgingBucket{
	{Label: "0-30", MinDays: 0, MaxDays: 30},
	{Label: "31-60", MinDays: 31, MaxDays: 60},
	{Label: "61-90", MinDays: 61, MaxDays: 90},
	{Label: "90+", MinDays: 91, MaxDays: -1},
}

func newAgingBuckets() []AgingBucket {
	buckets := make([]AgingBucket, len(agingBounds))
	copy(buckets, agingBounds)
	for i := range buckets {
		buckets[i].Balance = decimal.Zero
	}
	return buckets
}

// bucketIndex places an elapsed-days value in exactly one bucket.
func bucketIndex(days int) int {
	for i, b := range agingBounds {
		if b.MaxDays < 0 || days <= b.MaxDays {
			return i
		}
	}
	return len(agingBounds) - 1
}

// buildAging assigns every eligible past-due due to exactly one bucket,
// using the single now snapshot for the whole pass.
func buildAging(dues []FeeDue, now time.Time) AgingSummary {
	summary := AgingSummary{
		AsOf:    now,
		ByType:  make(map[string][]AgingBucket),
		Overall: newAgingBuckets(),
	}
	for _, due := range dues {
		if due.Settled() || !due.DueDate.Before(now) {
			continue
		}
		days := int(now.Sub(due.DueDate).Hours() / 24)
		idx := bucketIndex(days)

		buckets, ok := summary.ByType[due.FeeType]
		if !ok {
			buckets = newAgingBuckets()
		}
		buckets[idx].Count++
		buckets[idx].Balance = buckets[idx].Balance.Add(due.BalanceAmount)
		summary.ByType[due.FeeType] = buckets

		summary.Overall[idx].Count++
		summary.Overall[idx].Balance = summary.Overall[idx].Balance.Add(due.BalanceAmount)
	}
	for feeType, buckets := range summary.ByType {
		for i := range buckets {
			buckets[i].Balance = buckets[i].Balance.Round(2)
		}
		summary.ByType[feeType] = buckets
	}
	for i := range summary.Overall {
		summary.Overall[i].Balance = summary.Overall[i].Balance.Round(2)
	}
	return summary
}
