package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/fees"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

// Logger discards everything; tests that assert on log output use their own.
type Logger struct{}

var _ core.Logger = (*Logger)(nil)

func (Logger) Enable(bool)                  {}
func (Logger) Debug(string, ...interface{}) {}
func (Logger) Info(string, ...interface{})  {}
func (Logger) Warn(string, ...interface{})  {}
func (Logger) Error(string, ...interface{}) {}
func (Logger) Fatal(string, ...interface{}) {}

// AuditRecorded is one call captured by AuditRecorder.
type AuditRecorded struct {
	Kind      string
	SubjectID string
	Payload   map[string]interface{}
	ActorID   string
}

// AuditRecorder captures audit calls for assertions.
type AuditRecorder struct {
	mu      sync.Mutex
	Entries []AuditRecorded
}

var _ core.AuditLogger = (*AuditRecorder)(nil)

func (a *AuditRecorder) Record(_ context.Context, kind, subjectID string, payload map[string]interface{}, actorID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Entries = append(a.Entries, AuditRecorded{Kind: kind, SubjectID: subjectID, Payload: payload, ActorID: actorID})
}

// Dec parses a decimal literal, failing the test on bad input.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("Dec(%q) failed: %v", s, err)
	}
	return d
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd, role string,
	branchID *int,
	isActive bool,
) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		BranchID:  branchID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateBranch(t *testing.T, repo branch.Repository, name string, parentID *int) branch.Branch {
	t.Helper()
	br, err := repo.CreateBranch(context.Background(), branch.Branch{Name: name, ParentID: parentID})
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}
	return br
}

func CreateStudent(t *testing.T, repo student.Repository, name string, branchID, grade int, academicYear string) student.Student {
	t.Helper()
	now := time.Now().UTC()
	active := true
	s, err := repo.CreateStudent(context.Background(), student.Student{
		Name:         name,
		BranchID:     branchID,
		Grade:        grade,
		AcademicYear: academicYear,
		IsActive:     &active,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return s
}

// CreateDue seeds a due whose balance may already be partially settled.
func CreateDue(
	t *testing.T,
	repo fees.Repository,
	studentID string,
	branchID int,
	feeType, academicYear string,
	dueDate time.Time,
	original, balance decimal.Decimal,
	status fees.Status,
) fees.FeeDue {
	t.Helper()
	now := time.Now().UTC()
	due, err := repo.CreateDue(context.Background(), fees.FeeDue{
		StudentID:      studentID,
		BranchID:       branchID,
		FeeType:        feeType,
		AcademicYear:   academicYear,
		DueDate:        dueDate,
		OriginalAmount: original,
		BalanceAmount:  balance,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateDue() failed: %v", err)
	}
	return due
}

// CreatePayment seeds a completed payment receipt.
func CreatePayment(t *testing.T, repo fees.Repository, studentID string, total decimal.Decimal) fees.FeePayment {
	t.Helper()
	now := time.Now().UTC()
	p, err := repo.CreatePayment(context.Background(), fees.FeePayment{
		StudentID:     studentID,
		AmountPaid:    total,
		TotalAmount:   total,
		PaymentDate:   now,
		PaymentStatus: "Completed",
		PaymentMethod: "cash",
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("CreatePayment() failed: %v", err)
	}
	return p
}
