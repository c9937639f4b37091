package fees

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
)

// FeeStructure is an obligation template assigned per branch/grade/year.
type FeeStructure struct {
	ID           string          `json:"id"`
	BranchID     int             `json:"branch_id"`
	Grade        int             `json:"grade"`
	FeeType      string          `json:"fee_type"`
	Amount       decimal.Decimal `json:"amount"`
	AcademicYear string          `json:"academic_year"`
	DueDate      time.Time       `json:"due_date"`
	Recurrence   string          `json:"recurrence"` // one_time, termly, monthly
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
	UpdatedAt    time.Time       `json:"updated_at"` // UTC
}

// FeeDue is a concrete obligation instance for one student.
//
// Invariant: 0 <= BalanceAmount <= OriginalAmount, and Status is always
// consistent with the balance (see DeriveStatus).
type FeeDue struct {
	ID             string          `json:"id"`
	StudentID      string          `json:"student_id"`
	FeeStructureID string          `json:"fee_structure_id"`
	BranchID       int             `json:"branch_id"`
	FeeType        string          `json:"fee_type"`
	AcademicYear   string          `json:"academic_year"`
	CurrentGrade   int             `json:"current_grade"`
	DueDate        time.Time       `json:"due_date"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	BalanceAmount  decimal.Decimal `json:"balance_amount"`
	Status         Status          `json:"status"`
	Metadata       Metadata        `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at"` // UTC
}

// PaidAmount is how much of the original obligation has been settled.
func (d FeeDue) PaidAmount() decimal.Decimal {
	return d.OriginalAmount.Sub(d.BalanceAmount)
}

// Settled reports whether the due can no longer receive allocations.
func (d FeeDue) Settled() bool {
	return d.Status == StatusPaid || d.Status == StatusWaived
}

// NewFeeStructure contains information needed to create a new FeeStructure.
type NewFeeStructure struct {
	BranchID     int             `json:"branch_id" validate:"required"`
	Grade        int             `json:"grade" validate:"required,min=1"`
	FeeType      string          `json:"fee_type" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"amount"`
	AcademicYear string          `json:"academic_year" validate:"required"`
	DueDate      time.Time       `json:"due_date" validate:"required"`
	Recurrence   string          `json:"recurrence" validate:"required,oneof=one_time termly monthly"`
}

func (nfs *NewFeeStructure) Validate(validate *validator.Validate) error {
	nfs.FeeType = core.CleanString(nfs.FeeType)
	nfs.AcademicYear = core.CleanString(nfs.AcademicYear)
	return validate.Struct(nfs)
}

// FeePayment is a receipt. TotalAmount = AmountPaid + LateFee - DiscountAmount.
type FeePayment struct {
	ID             string          `json:"id"`
	StudentID      string          `json:"student_id"`
	FeeStructureID string          `json:"fee_structure_id"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	LateFee        decimal.Decimal `json:"late_fee"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentDate    time.Time       `json:"payment_date"`
	PaymentStatus  string          `json:"payment_status"`
	PaymentMethod  string          `json:"payment_method"`
	CreatedAt      time.Time       `json:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at"` // UTC
}

// NewFeePayment contains information needed to record a new FeePayment.
// TotalAmount is derived by the service and cannot be provided.
type NewFeePayment struct {
	StudentID      string          `json:"student_id" validate:"required"`
	FeeStructureID string          `json:"fee_structure_id" validate:"required"`
	AmountPaid     decimal.Decimal `json:"amount_paid" validate:"amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	LateFee        decimal.Decimal `json:"late_fee"`
	PaymentDate    time.Time       `json:"payment_date" validate:"required"`
	PaymentMethod  string          `json:"payment_method" validate:"required,oneof=cash card cheque transfer mobile_money"`
}

func (np *NewFeePayment) Validate(validate *validator.Validate) error {
	np.PaymentMethod = core.CleanString(np.PaymentMethod, true /* lower */)
	if np.DiscountAmount.IsNegative() || np.LateFee.IsNegative() {
		return core.NewValidationError(nil,
			core.FieldError{Field: "discount_amount", Error: "cannot be negative"})
	}
	if np.AmountPaid.Add(np.LateFee).Sub(np.DiscountAmount).IsNegative() {
		return core.NewValidationError(nil,
			core.FieldError{Field: "discount_amount", Error: "discount exceeds the amount paid"})
	}
	return validate.Struct(np)
}

// Allocation applies part of a payment's value against one due.
type Allocation struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	DueID     string          `json:"due_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"` // UTC
}

// DuesFilter narrows GetStudentDues.
type DuesFilter struct {
	AcademicYear string   `query:"academic_year"`
	Statuses     []Status `query:"status"`
}

// ReportFilter narrows overdue/report queries. A nil BranchIDs means no
// branch restriction; callers holding an empty access scope must not reach
// the engine at all.
type ReportFilter struct {
	AcademicYear string `query:"academic_year"`
	FeeType      string `query:"fee_type"`
	BranchIDs    []int  `query:"-"`
}

// TypeSummary aggregates a student's dues of a single fee type.
type TypeSummary struct {
	FeeType       string          `json:"fee_type"`
	Count         int             `json:"count"`
	TotalOriginal decimal.Decimal `json:"total_original"`
	TotalBalance  decimal.Decimal `json:"total_balance"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	Dues          []FeeDue        `json:"dues,omitempty"`
}

// StudentDues is the per-student ledger view.
type StudentDues struct {
	StudentID  string                 `json:"student_id"`
	DuesByType map[string]TypeSummary `json:"dues_by_type"`
	Totals     TypeSummary            `json:"totals"` // FeeType empty; Dues omitted
}

// AgingBucket is one elapsed-days range of overdue balances.
type AgingBucket struct {
	Label   string          `json:"label"`
	MinDays int             `json:"min_days"`
	MaxDays int             `json:"max_days"` // -1 for the open-ended bucket
	Count   int             `json:"count"`
	Balance decimal.Decimal `json:"balance"`
}

// AgingSummary buckets overdue balances per fee type against one "now" snapshot.
type AgingSummary struct {
	AsOf    time.Time                `json:"as_of"`
	ByType  map[string][]AgingBucket `json:"by_type"`
	Overall []AgingBucket            `json:"overall"`
}

// DuesReport is the composed outstanding/aging report.
type DuesReport struct {
	GeneratedAt      time.Time              `json:"generated_at"`
	TotalOutstanding decimal.Decimal        `json:"total_outstanding"`
	ByType           map[string]TypeSummary `json:"by_type"`
	Aging            AgingSummary           `json:"aging"`
}
