package fees_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/fees"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
	testutil "github.com/trezcool/shule/tests"
)

func setup(t *testing.T) (*fees.Service, fees.Repository, *testutil.AuditRecorder) {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)
	repo := dummydb.NewFeesRepository(db)
	audit := &testutil.AuditRecorder{}
	return fees.NewService(db, repo, audit, testutil.Logger{}), repo, audit
}

func freezeNow(t *testing.T, now time.Time) {
	t.Helper()
	fees.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { fees.NowFunc = time.Now })
}

func TestService_GetStudentDues(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()
	now := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	freezeNow(t, now)

	past := now.AddDate(0, 0, -20)
	future := now.AddDate(0, 0, 20)

	testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
		testutil.Dec(t, "1000"), testutil.Dec(t, "1000"), fees.StatusPending)
	testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", past,
		testutil.Dec(t, "500"), testutil.Dec(t, "200"), fees.StatusPartiallyPaid)
	testutil.CreateDue(t, repo, "std-1", 1, "Transport", "2020-2021", future,
		testutil.Dec(t, "150"), decimal.Zero, fees.StatusPaid)
	waived := testutil.CreateDue(t, repo, "std-1", 1, "Transport", "2020-2021", past,
		testutil.Dec(t, "80"), decimal.Zero, fees.StatusWaived)
	// another student's due must not leak in
	testutil.CreateDue(t, repo, "std-2", 1, "Tuition", "2020-2021", future,
		testutil.Dec(t, "1000"), testutil.Dec(t, "1000"), fees.StatusPending)

	dues, err := svc.GetStudentDues(ctx, "std-1", nil)
	require.NoError(t, err)

	assert.Equal(t, "std-1", dues.StudentID)
	require.Len(t, dues.DuesByType, 2)

	tuition := dues.DuesByType["Tuition"]
	assert.Equal(t, 2, tuition.Count)
	assert.True(t, tuition.TotalOriginal.Equal(testutil.Dec(t, "1500")), tuition.TotalOriginal.String())
	assert.True(t, tuition.TotalBalance.Equal(testutil.Dec(t, "1200")), tuition.TotalBalance.String())
	assert.True(t, tuition.TotalPaid.Equal(testutil.Dec(t, "300")), tuition.TotalPaid.String())

	transport := dues.DuesByType["Transport"]
	assert.Equal(t, 2, transport.Count)
	assert.True(t, transport.TotalBalance.Equal(decimal.Zero))

	assert.Equal(t, 4, dues.Totals.Count)
	assert.True(t, dues.Totals.TotalOriginal.Equal(testutil.Dec(t, "1730")))
	assert.True(t, dues.Totals.TotalBalance.Equal(testutil.Dec(t, "1200")))

	// the past-due unpaid due reads as Overdue; the waived one stays Waived
	byID := make(map[string]fees.FeeDue)
	for _, group := range dues.DuesByType {
		for _, due := range group.Dues {
			byID[due.ID] = due
		}
	}
	for _, due := range byID {
		switch {
		case due.FeeType == "Tuition" && due.DueDate.Equal(past):
			assert.Equal(t, fees.StatusOverdue, due.Status)
		case due.ID == waived.ID:
			assert.Equal(t, fees.StatusWaived, due.Status)
		}
	}

	// status filter applies to the derived status
	overdueOnly, err := svc.GetStudentDues(ctx, "std-1", &fees.DuesFilter{Statuses: []fees.Status{fees.StatusOverdue}})
	require.NoError(t, err)
	assert.Equal(t, 1, overdueOnly.Totals.Count)
	assert.True(t, overdueOnly.Totals.TotalBalance.Equal(testutil.Dec(t, "200")))

	// unknown student yields an empty ledger, not an error
	empty, err := svc.GetStudentDues(ctx, "std-nope", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Totals.Count)
	assert.Empty(t, empty.DuesByType)
}

func TestService_ApplyPaymentToDues(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 0, 30)

	t.Run("full batch applies atomically", func(t *testing.T) {
		svc, repo, audit := setup(t)
		freezeNow(t, now)

		due1 := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
		due2 := testutil.CreateDue(t, repo, "std-1", 1, "Transport", "2020-2021", future,
			testutil.Dec(t, "150"), testutil.Dec(t, "150"), fees.StatusPending)
		payment := testutil.CreatePayment(t, repo, "std-1", testutil.Dec(t, "600"))

		err := svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{due1.ID, due2.ID},
			[]decimal.Decimal{testutil.Dec(t, "500"), testutil.Dec(t, "100")},
			"usr-1")
		require.NoError(t, err)

		got1, err := repo.GetDue(ctx, due1.ID)
		require.NoError(t, err)
		assert.True(t, got1.BalanceAmount.IsZero())
		assert.Equal(t, fees.StatusPaid, got1.Status)

		got2, err := repo.GetDue(ctx, due2.ID)
		require.NoError(t, err)
		assert.True(t, got2.BalanceAmount.Equal(testutil.Dec(t, "50")))
		assert.Equal(t, fees.StatusPartiallyPaid, got2.Status)

		// money conservation: allocations total the batch
		allocated, err := repo.AllocatedTotal(ctx, payment.ID)
		require.NoError(t, err)
		assert.True(t, allocated.Equal(testutil.Dec(t, "600")))

		require.Len(t, audit.Entries, 1)
		assert.Equal(t, core.AuditKindAllocation, audit.Entries[0].Kind)
		assert.Equal(t, payment.ID, audit.Entries[0].SubjectID)
		assert.Equal(t, "usr-1", audit.Entries[0].ActorID)
	})

	t.Run("batch exceeding unallocated amount is rejected", func(t *testing.T) {
		svc, repo, audit := setup(t)
		freezeNow(t, now)

		due := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
		payment := testutil.CreatePayment(t, repo, "std-1", testutil.Dec(t, "100"))

		// consume most of the payment first
		require.NoError(t, svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{due.ID}, []decimal.Decimal{testutil.Dec(t, "90")}, "usr-1"))

		err := svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{due.ID}, []decimal.Decimal{testutil.Dec(t, "20")}, "usr-1")
		assert.Equal(t, fees.ErrAllocationExceedsPayment, err)

		got, err := repo.GetDue(ctx, due.ID)
		require.NoError(t, err)
		assert.True(t, got.BalanceAmount.Equal(testutil.Dec(t, "410")))
		assert.Len(t, audit.Entries, 1) // only the first batch was recorded
	})

	t.Run("over-allocation aborts the whole batch", func(t *testing.T) {
		svc, repo, _ := setup(t)
		freezeNow(t, now)

		due1 := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
		due2 := testutil.CreateDue(t, repo, "std-1", 1, "Transport", "2020-2021", future,
			testutil.Dec(t, "150"), testutil.Dec(t, "10"), fees.StatusPartiallyPaid)
		payment := testutil.CreatePayment(t, repo, "std-1", testutil.Dec(t, "600"))

		err := svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{due1.ID, due2.ID},
			[]decimal.Decimal{testutil.Dec(t, "100"), testutil.Dec(t, "20")},
			"usr-1")
		assert.Equal(t, fees.ErrOverAllocation, err)

		// nothing at all was applied, the first pair included
		got1, err := repo.GetDue(ctx, due1.ID)
		require.NoError(t, err)
		assert.True(t, got1.BalanceAmount.Equal(testutil.Dec(t, "500")))
		allocated, err := repo.AllocatedTotal(ctx, payment.ID)
		require.NoError(t, err)
		assert.True(t, allocated.IsZero())
	})

	t.Run("settled dues accept no allocations", func(t *testing.T) {
		svc, repo, _ := setup(t)
		freezeNow(t, now)

		paid := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), decimal.Zero, fees.StatusPaid)
		payment := testutil.CreatePayment(t, repo, "std-1", testutil.Dec(t, "100"))

		err := svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{paid.ID}, []decimal.Decimal{testutil.Dec(t, "10")}, "usr-1")
		assert.Equal(t, fees.ErrOverAllocation, err)
	})

	t.Run("repeated due in one batch settles against the working balance", func(t *testing.T) {
		svc, repo, _ := setup(t)
		freezeNow(t, now)

		due := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "100"), testutil.Dec(t, "100"), fees.StatusPending)
		payment := testutil.CreatePayment(t, repo, "std-1", testutil.Dec(t, "200"))

		// 60 + 50 exceeds the 100 balance even though each fits alone
		err := svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{due.ID, due.ID},
			[]decimal.Decimal{testutil.Dec(t, "60"), testutil.Dec(t, "50")},
			"usr-1")
		assert.Equal(t, fees.ErrOverAllocation, err)

		err = svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{due.ID, due.ID},
			[]decimal.Decimal{testutil.Dec(t, "60"), testutil.Dec(t, "40")},
			"usr-1")
		require.NoError(t, err)
		got, err := repo.GetDue(ctx, due.ID)
		require.NoError(t, err)
		assert.True(t, got.BalanceAmount.IsZero())
		assert.Equal(t, fees.StatusPaid, got.Status)
	})

	t.Run("input validation", func(t *testing.T) {
		svc, repo, _ := setup(t)
		freezeNow(t, now)
		payment := testutil.CreatePayment(t, repo, "std-1", testutil.Dec(t, "100"))

		var vErr *core.ValidationError

		err := svc.ApplyPaymentToDues(ctx, payment.ID, nil, nil, "usr-1")
		assert.ErrorAs(t, err, &vErr)

		err = svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{"a", "b"}, []decimal.Decimal{testutil.Dec(t, "10")}, "usr-1")
		assert.ErrorAs(t, err, &vErr)

		err = svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{"a"}, []decimal.Decimal{decimal.Zero}, "usr-1")
		assert.ErrorAs(t, err, &vErr)

		err = svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{"a"}, []decimal.Decimal{testutil.Dec(t, "-5")}, "usr-1")
		assert.ErrorAs(t, err, &vErr)
	})
}

// contendingRepo lets another writer move a due's balance between the
// service's read and its conditional update.
type contendingRepo struct {
	fees.Repository
	contend func()
}

func (r *contendingRepo) UpdateDueBalance(ctx context.Context, dueID string, expectedBalance, newBalance decimal.Decimal, status fees.Status, metadata fees.Metadata, exec ...core.DBExecutor) (fees.FeeDue, error) {
	if r.contend != nil {
		r.contend()
		r.contend = nil
	}
	return r.Repository.UpdateDueBalance(ctx, dueID, expectedBalance, newBalance, status, metadata, exec...)
}

func TestService_StaleBalanceConflict(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 0, 30)

	t.Run("conditional update rejects a stale balance read", func(t *testing.T) {
		_, repo, _ := setup(t)

		due := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)

		_, err := repo.UpdateDueBalance(ctx, due.ID,
			testutil.Dec(t, "400"), testutil.Dec(t, "300"), fees.StatusPartiallyPaid, nil)
		assert.Equal(t, fees.ErrStaleBalance, err)

		got, err := repo.GetDue(ctx, due.ID)
		require.NoError(t, err)
		assert.True(t, got.BalanceAmount.Equal(testutil.Dec(t, "500")))
		assert.Equal(t, fees.StatusPending, got.Status)
	})

	t.Run("concurrent allocation against the same due fails the batch", func(t *testing.T) {
		freezeNow(t, now)
		db, err := dummydb.Open()
		require.NoError(t, err)
		inner := dummydb.NewFeesRepository(db)

		due := testutil.CreateDue(t, inner, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
		payment := testutil.CreatePayment(t, inner, "std-1", testutil.Dec(t, "300"))

		repo := &contendingRepo{Repository: inner}
		repo.contend = func() {
			// another request settles part of the due after our read
			_, cErr := inner.UpdateDueBalance(ctx, due.ID,
				testutil.Dec(t, "500"), testutil.Dec(t, "350"), fees.StatusPartiallyPaid, nil)
			require.NoError(t, cErr)
		}
		svc := fees.NewService(db, repo, &testutil.AuditRecorder{}, testutil.Logger{})

		err = svc.ApplyPaymentToDues(ctx, payment.ID,
			[]string{due.ID}, []decimal.Decimal{testutil.Dec(t, "200")}, "usr-1")
		assert.Equal(t, fees.ErrStaleBalance, errors.Cause(err))

		// the competing write stuck; ours was not applied on top of it
		got, err := inner.GetDue(ctx, due.ID)
		require.NoError(t, err)
		assert.True(t, got.BalanceAmount.Equal(testutil.Dec(t, "350")))
		assert.Equal(t, fees.StatusPartiallyPaid, got.Status)

		allocated, err := inner.AllocatedTotal(ctx, payment.ID)
		require.NoError(t, err)
		assert.True(t, allocated.IsZero())
	})
}

func TestService_WaiveDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 0, 30)

	t.Run("waives and records the audit trail", func(t *testing.T) {
		svc, repo, audit := setup(t)
		freezeNow(t, now)

		due := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), testutil.Dec(t, "320"), fees.StatusPartiallyPaid)
		// pre-existing metadata must survive the merge
		_, err := repo.UpdateDueBalance(ctx, due.ID, due.BalanceAmount, due.BalanceAmount,
			due.Status, fees.Metadata{"scholarship": "sports"})
		require.NoError(t, err)

		waived, err := svc.WaiveDue(ctx, due.ID, "  family hardship ", "usr-9")
		require.NoError(t, err)

		assert.True(t, waived.BalanceAmount.IsZero())
		assert.Equal(t, fees.StatusWaived, waived.Status)
		assert.Equal(t, "sports", waived.Metadata["scholarship"])
		assert.Equal(t, "family hardship", waived.Metadata["waived_reason"])
		assert.Equal(t, "usr-9", waived.Metadata["waived_by"])
		assert.Equal(t, now.Format(time.RFC3339), waived.Metadata["waived_at"])

		require.Len(t, audit.Entries, 1)
		assert.Equal(t, core.AuditKindWaiver, audit.Entries[0].Kind)
		assert.Equal(t, due.ID, audit.Entries[0].SubjectID)
		assert.Equal(t, "usr-9", audit.Entries[0].ActorID)
		assert.Equal(t, "320", audit.Entries[0].Payload["amount_before"])
	})

	t.Run("settled dues cannot be waived", func(t *testing.T) {
		svc, repo, audit := setup(t)
		freezeNow(t, now)

		paid := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), decimal.Zero, fees.StatusPaid)
		_, err := svc.WaiveDue(ctx, paid.ID, "nope", "usr-9")
		assert.Equal(t, fees.ErrWaiveInvalidState, err)

		alreadyWaived := testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", future,
			testutil.Dec(t, "500"), decimal.Zero, fees.StatusWaived)
		_, err = svc.WaiveDue(ctx, alreadyWaived.ID, "again", "usr-9")
		assert.Equal(t, fees.ErrWaiveInvalidState, err)

		assert.Empty(t, audit.Entries)
	})

	t.Run("reason is required", func(t *testing.T) {
		svc, _, _ := setup(t)
		var vErr *core.ValidationError
		_, err := svc.WaiveDue(ctx, "due-1", "   ", "usr-9")
		assert.ErrorAs(t, err, &vErr)
	})
}

func TestService_GetOverdueFees(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()
	now := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	freezeNow(t, now)

	daysAgo := func(d int) time.Time { return now.AddDate(0, 0, -d) }

	testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", daysAgo(10),
		testutil.Dec(t, "100"), testutil.Dec(t, "100"), fees.StatusPending)
	testutil.CreateDue(t, repo, "std-2", 1, "Tuition", "2020-2021", daysAgo(45),
		testutil.Dec(t, "200"), testutil.Dec(t, "150"), fees.StatusPartiallyPaid)
	testutil.CreateDue(t, repo, "std-3", 2, "Transport", "2020-2021", daysAgo(70),
		testutil.Dec(t, "50"), testutil.Dec(t, "50"), fees.StatusPending)
	testutil.CreateDue(t, repo, "std-4", 2, "Tuition", "2020-2021", daysAgo(200),
		testutil.Dec(t, "300"), testutil.Dec(t, "300"), fees.StatusPending)
	// not overdue: future due date, settled, waived
	testutil.CreateDue(t, repo, "std-5", 1, "Tuition", "2020-2021", now.AddDate(0, 0, 5),
		testutil.Dec(t, "100"), testutil.Dec(t, "100"), fees.StatusPending)
	testutil.CreateDue(t, repo, "std-6", 1, "Tuition", "2020-2021", daysAgo(40),
		testutil.Dec(t, "100"), decimal.Zero, fees.StatusPaid)
	testutil.CreateDue(t, repo, "std-7", 1, "Tuition", "2020-2021", daysAgo(40),
		testutil.Dec(t, "100"), decimal.Zero, fees.StatusWaived)

	summary, err := svc.GetOverdueFees(ctx, fees.ReportFilter{})
	require.NoError(t, err)

	assert.Equal(t, now, summary.AsOf)
	require.Len(t, summary.Overall, 4)

	counts := make([]int, 4)
	total := decimal.Zero
	for i, bucket := range summary.Overall {
		counts[i] = bucket.Count
		total = total.Add(bucket.Balance)
	}
	// every overdue due lands in exactly one bucket
	assert.Equal(t, []int{1, 1, 1, 1}, counts)
	assert.True(t, total.Equal(testutil.Dec(t, "600")), total.String())

	assert.True(t, summary.Overall[0].Balance.Equal(testutil.Dec(t, "100")))
	assert.True(t, summary.Overall[1].Balance.Equal(testutil.Dec(t, "150")))
	assert.True(t, summary.Overall[2].Balance.Equal(testutil.Dec(t, "50")))
	assert.True(t, summary.Overall[3].Balance.Equal(testutil.Dec(t, "300")))

	require.Len(t, summary.ByType, 2)
	tuition := summary.ByType["Tuition"]
	assert.Equal(t, 1, tuition[0].Count)
	assert.Equal(t, 1, tuition[1].Count)
	assert.Equal(t, 0, tuition[2].Count)
	assert.Equal(t, 1, tuition[3].Count)
	transport := summary.ByType["Transport"]
	assert.Equal(t, 1, transport[2].Count)

	// branch restriction narrows the result
	scoped, err := svc.GetOverdueFees(ctx, fees.ReportFilter{BranchIDs: []int{2}})
	require.NoError(t, err)
	scopedTotal := decimal.Zero
	for _, bucket := range scoped.Overall {
		scopedTotal = scopedTotal.Add(bucket.Balance)
	}
	assert.True(t, scopedTotal.Equal(testutil.Dec(t, "350")))
}

func TestService_GenerateDuesReport(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()
	now := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	freezeNow(t, now)

	testutil.CreateDue(t, repo, "std-1", 1, "Tuition", "2020-2021", now.AddDate(0, 0, -45),
		testutil.Dec(t, "200"), testutil.Dec(t, "150"), fees.StatusPartiallyPaid)
	testutil.CreateDue(t, repo, "std-2", 1, "Tuition", "2020-2021", now.AddDate(0, 0, 30),
		testutil.Dec(t, "200"), testutil.Dec(t, "200"), fees.StatusPending)
	testutil.CreateDue(t, repo, "std-3", 1, "Transport", "2020-2021", now.AddDate(0, 0, -10),
		testutil.Dec(t, "60"), testutil.Dec(t, "60"), fees.StatusPending)

	report, err := svc.GenerateDuesReport(ctx, fees.ReportFilter{AcademicYear: "2020-2021"})
	require.NoError(t, err)

	assert.Equal(t, now, report.GeneratedAt)
	assert.True(t, report.TotalOutstanding.Equal(testutil.Dec(t, "410")), report.TotalOutstanding.String())

	tuition := report.ByType["Tuition"]
	assert.Equal(t, 2, tuition.Count)
	assert.True(t, tuition.TotalBalance.Equal(testutil.Dec(t, "350")))
	assert.True(t, tuition.TotalPaid.Equal(testutil.Dec(t, "50")))

	// aging only covers the past-due subset
	agingTotal := decimal.Zero
	for _, bucket := range report.Aging.Overall {
		agingTotal = agingTotal.Add(bucket.Balance)
	}
	assert.True(t, agingTotal.Equal(testutil.Dec(t, "210")), agingTotal.String())
	assert.Equal(t, report.GeneratedAt, report.Aging.AsOf)
}
