package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/trezcool/shule/core/fees"
	"github.com/trezcool/shule/core/user"
	testutil "github.com/trezcool/shule/tests"
)

func Test_feesApi_studentDues(t *testing.T) {
	db.Reset()
	_, campusA, _, campusB := seedTree(t)

	adminA := testutil.CreateUser(t, usrRepo, "Admin A", "admina", "admina@shule.cd", "", user.RoleBranchAdmin, &campusA.ID, true)
	acctB := testutil.CreateUser(t, usrRepo, "Acct B", "acctbb", "acctb@shule.cd", "", user.RoleAccountant, &campusB.ID, true)

	stu := testutil.CreateStudent(t, studentRepo, "Didier Musoda", campusA.ID, 5, "2026-2027")
	past := time.Now().UTC().AddDate(0, 0, -10)
	future := time.Now().UTC().AddDate(0, 0, 20)
	testutil.CreateDue(t, feesRepo, stu.ID, campusA.ID, "Tuition", "2026-2027", past, testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
	testutil.CreateDue(t, feesRepo, stu.ID, campusA.ID, "Transport", "2026-2027", future, testutil.Dec(t, "200"), testutil.Dec(t, "80"), fees.StatusPartiallyPaid)

	path := fmt.Sprintf("/v1/students/%s/dues", stu.ID)

	t.Run("auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, path)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("out-of-scope student is hidden", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, acctB))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)}, rec)
	})

	t.Run("ledger view", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, adminA))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status code = %d; body: %s", rec.Code, rec.Body.String())
		}

		var dues fees.StudentDues
		if err := json.Unmarshal(rec.Body.Bytes(), &dues); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if !dues.Totals.TotalBalance.Equal(testutil.Dec(t, "580")) {
			t.Errorf("Totals.TotalBalance = %s, want 580", dues.Totals.TotalBalance)
		}
		if got := dues.DuesByType["Tuition"].Dues[0].Status; got != fees.StatusOverdue {
			t.Errorf("tuition due status = %s, want %s", got, fees.StatusOverdue)
		}
	})

	t.Run("status filter", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path+"?status=PartiallyPaid", getToken(t, adminA))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status code = %d; body: %s", rec.Code, rec.Body.String())
		}

		var dues fees.StudentDues
		if err := json.Unmarshal(rec.Body.Bytes(), &dues); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if dues.Totals.Count != 1 {
			t.Errorf("Totals.Count = %d, want 1", dues.Totals.Count)
		}
	})
}

func Test_feesApi_allocate(t *testing.T) {
	db.Reset()
	_, campusA, _, campusB := seedTree(t)

	adminA := testutil.CreateUser(t, usrRepo, "Admin A", "admina", "admina@shule.cd", "", user.RoleBranchAdmin, &campusA.ID, true)
	teacherA := testutil.CreateUser(t, usrRepo, "Teacher A", "teacha", "teacha@shule.cd", "", user.RoleTeacher, &campusA.ID, true)

	stu := testutil.CreateStudent(t, studentRepo, "Didier Musoda", campusA.ID, 5, "2026-2027")
	dueDate := time.Now().UTC().AddDate(0, 0, 15)
	due1 := testutil.CreateDue(t, feesRepo, stu.ID, campusA.ID, "Tuition", "2026-2027", dueDate, testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
	due2 := testutil.CreateDue(t, feesRepo, stu.ID, campusA.ID, "Transport", "2026-2027", dueDate, testutil.Dec(t, "200"), testutil.Dec(t, "200"), fees.StatusPending)
	payment := testutil.CreatePayment(t, feesRepo, stu.ID, testutil.Dec(t, "600"))

	allocate := func(pairs map[string]string) []byte {
		dueIDs := make([]string, 0, len(pairs))
		amounts := make([]string, 0, len(pairs))
		for id, amt := range pairs {
			dueIDs = append(dueIDs, id)
			amounts = append(amounts, amt)
		}
		return marchallObj(t, map[string]interface{}{"due_ids": dueIDs, "amounts": amounts})
	}
	path := fmt.Sprintf("/v1/fees/payments/%s/allocate", payment.ID)

	t.Run("manage permission required", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, teacherA), allocate(map[string]string{due1.ID: "100"}))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("due outside scope is hidden", func(t *testing.T) {
		stuB := testutil.CreateStudent(t, studentRepo, "Nana Kalala", campusB.ID, 5, "2026-2027")
		dueB := testutil.CreateDue(t, feesRepo, stuB.ID, campusB.ID, "Tuition", "2026-2027", dueDate, testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)

		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, adminA), allocate(map[string]string{dueB.ID: "100"}))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)}, rec)

		got, err := feesRepo.GetDue(context.Background(), dueB.ID)
		if err != nil {
			t.Fatalf("GetDue(): %v", err)
		}
		if !got.BalanceAmount.Equal(testutil.Dec(t, "500")) {
			t.Errorf("dueB balance = %s, want untouched 500", got.BalanceAmount)
		}
	})

	t.Run("batch exceeding unallocated is rejected", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, adminA), allocate(map[string]string{due1.ID: "500", due2.ID: "200"}))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: fees.ErrAllocationExceedsPayment.Error()}),
		}, rec)

		got, err := feesRepo.GetDue(context.Background(), due1.ID)
		if err != nil {
			t.Fatalf("GetDue(): %v", err)
		}
		if !got.BalanceAmount.Equal(due1.BalanceAmount) {
			t.Errorf("due1 balance = %s, want unchanged %s", got.BalanceAmount, due1.BalanceAmount)
		}
	})

	t.Run("full batch applies", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, adminA), allocate(map[string]string{due1.ID: "400", due2.ID: "200"}))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantData: marchallObj(t, map[string]string{"success": "Payment allocated."})}, rec)

		got1, _ := feesRepo.GetDue(context.Background(), due1.ID)
		got2, _ := feesRepo.GetDue(context.Background(), due2.ID)
		if !got1.BalanceAmount.Equal(testutil.Dec(t, "100")) {
			t.Errorf("due1 balance = %s, want 100", got1.BalanceAmount)
		}
		if got1.Status != fees.StatusPartiallyPaid {
			t.Errorf("due1 status = %s, want %s", got1.Status, fees.StatusPartiallyPaid)
		}
		if !got2.BalanceAmount.IsZero() {
			t.Errorf("due2 balance = %s, want 0", got2.BalanceAmount)
		}
		if got2.Status != fees.StatusPaid {
			t.Errorf("due2 status = %s, want %s", got2.Status, fees.StatusPaid)
		}
	})

	t.Run("settled due rejects further allocations", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, adminA), allocate(map[string]string{due2.ID: "1"}))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: fees.ErrOverAllocation.Error()}),
		}, rec)
	})

	t.Run("unknown payment", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/fees/payments/nope/allocate", getToken(t, adminA), allocate(map[string]string{due1.ID: "1"}))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)}, rec)
	})
}

func Test_feesApi_waive(t *testing.T) {
	db.Reset()
	_, campusA, _, campusB := seedTree(t)

	acctA := testutil.CreateUser(t, usrRepo, "Acct A", "acctaa", "accta@shule.cd", "", user.RoleAccountant, &campusA.ID, true)
	acctB := testutil.CreateUser(t, usrRepo, "Acct B", "acctbb", "acctb@shule.cd", "", user.RoleAccountant, &campusB.ID, true)
	regA := testutil.CreateUser(t, usrRepo, "Reg A", "regaaa", "rega@shule.cd", "", user.RoleRegistrar, &campusA.ID, true)

	stu := testutil.CreateStudent(t, studentRepo, "Didier Musoda", campusA.ID, 5, "2026-2027")
	dueDate := time.Now().UTC().AddDate(0, 0, 15)
	due := testutil.CreateDue(t, feesRepo, stu.ID, campusA.ID, "Tuition", "2026-2027", dueDate, testutil.Dec(t, "320"), testutil.Dec(t, "320"), fees.StatusPending)
	paid := testutil.CreateDue(t, feesRepo, stu.ID, campusA.ID, "Books", "2026-2027", dueDate, testutil.Dec(t, "50"), testutil.Dec(t, "0"), fees.StatusPaid)

	waive := func(reason string) []byte {
		return marchallObj(t, map[string]string{"reason": reason})
	}
	path := func(dueID string) string { return fmt.Sprintf("/v1/fees/dues/%s/waive", dueID) }

	tests := []httpTest{
		{
			name: "waive permission required", path: path(due.ID), token: getToken(t, regA), body: waive("hardship"),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "out-of-scope due is hidden", path: path(due.ID), token: getToken(t, acctB), body: waive("hardship"),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound),
		},
		{
			name: "reason required", path: path(due.ID), token: getToken(t, acctA), body: waive("  "),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "settled due cannot be waived", path: path(paid.ID), token: getToken(t, acctA), body: waive("hardship"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: fees.ErrWaiveInvalidState.Error()}),
		},
		{
			name: "waive", path: path(due.ID), token: getToken(t, acctA), body: waive("scholarship awarded"),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.name == "waive" {
				var got fees.FeeDue
				if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
					t.Fatalf("unmarshalling response: %v", err)
				}
				if got.Status != fees.StatusWaived {
					t.Errorf("status = %s, want %s", got.Status, fees.StatusWaived)
				}
				if !got.BalanceAmount.IsZero() {
					t.Errorf("balance = %s, want 0", got.BalanceAmount)
				}
				if got.Metadata["waived_reason"] != "scholarship awarded" {
					t.Errorf("waived_reason = %v", got.Metadata["waived_reason"])
				}
				if got.Metadata["waived_by"] != acctA.ID {
					t.Errorf("waived_by = %v, want %s", got.Metadata["waived_by"], acctA.ID)
				}
			}
		})
	}
}

func Test_feesApi_overdue(t *testing.T) {
	db.Reset()
	_, campusA, campusA1, campusB := seedTree(t)

	adminA := testutil.CreateUser(t, usrRepo, "Admin A", "admina", "admina@shule.cd", "", user.RoleBranchAdmin, &campusA.ID, true)
	teacherA := testutil.CreateUser(t, usrRepo, "Teacher A", "teacha", "teacha@shule.cd", "", user.RoleTeacher, &campusA.ID, true)

	stuA := testutil.CreateStudent(t, studentRepo, "Didier Musoda", campusA.ID, 5, "2026-2027")
	stuA1 := testutil.CreateStudent(t, studentRepo, "Grace Ilunga", campusA1.ID, 3, "2026-2027")
	stuB := testutil.CreateStudent(t, studentRepo, "Bob Kalala", campusB.ID, 6, "2026-2027")

	now := time.Now().UTC()
	testutil.CreateDue(t, feesRepo, stuA.ID, campusA.ID, "Tuition", "2026-2027", now.AddDate(0, 0, -5), testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
	testutil.CreateDue(t, feesRepo, stuA1.ID, campusA1.ID, "Tuition", "2026-2027", now.AddDate(0, 0, -45), testutil.Dec(t, "300"), testutil.Dec(t, "120"), fees.StatusPartiallyPaid)
	testutil.CreateDue(t, feesRepo, stuB.ID, campusB.ID, "Tuition", "2026-2027", now.AddDate(0, 0, -100), testutil.Dec(t, "900"), testutil.Dec(t, "900"), fees.StatusPending)

	t.Run("reports permission required", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/fees/overdue", getToken(t, teacherA))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("scoped to the actor's subtree", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/fees/overdue", getToken(t, adminA))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status code = %d; body: %s", rec.Code, rec.Body.String())
		}

		var summary fees.AgingSummary
		if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}

		var total fees.AgingBucket
		for _, b := range summary.Overall {
			total.Count += b.Count
			total.Balance = total.Balance.Add(b.Balance)
		}
		if total.Count != 2 {
			t.Errorf("overall count = %d, want 2", total.Count)
		}
		if !total.Balance.Equal(testutil.Dec(t, "620")) {
			t.Errorf("overall balance = %s, want 620", total.Balance)
		}
	})
}

func Test_feesApi_report(t *testing.T) {
	db.Reset()
	_, campusA, _, _ := seedTree(t)

	adminA := testutil.CreateUser(t, usrRepo, "Admin A", "admina", "admina@shule.cd", "", user.RoleBranchAdmin, &campusA.ID, true)

	stu := testutil.CreateStudent(t, studentRepo, "Didier Musoda", campusA.ID, 5, "2026-2027")
	now := time.Now().UTC()
	testutil.CreateDue(t, feesRepo, stu.ID, campusA.ID, "Tuition", "2026-2027", now.AddDate(0, 0, -5), testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
	testutil.CreateDue(t, feesRepo, stu.ID, campusA.ID, "Transport", "2026-2027", now.AddDate(0, 0, 30), testutil.Dec(t, "200"), testutil.Dec(t, "150"), fees.StatusPartiallyPaid)

	req, rec := newAuthRequest(http.MethodGet, "/v1/fees/report?academic_year=2026-2027", getToken(t, adminA))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d; body: %s", rec.Code, rec.Body.String())
	}

	var report fees.DuesReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if !report.TotalOutstanding.Equal(testutil.Dec(t, "650")) {
		t.Errorf("TotalOutstanding = %s, want 650", report.TotalOutstanding)
	}
	if got := report.ByType["Tuition"].TotalBalance; !got.Equal(testutil.Dec(t, "500")) {
		t.Errorf("Tuition balance = %s, want 500", got)
	}
}

func Test_feesApi_structures(t *testing.T) {
	db.Reset()
	_, campusA, _, campusB := seedTree(t)

	adminA := testutil.CreateUser(t, usrRepo, "Admin A", "admina", "admina@shule.cd", "", user.RoleBranchAdmin, &campusA.ID, true)
	token := getToken(t, adminA)

	newStructure := func(branchID int) []byte {
		return marchallObj(t, map[string]interface{}{
			"branch_id":     branchID,
			"grade":         5,
			"fee_type":      "Tuition",
			"amount":        "500",
			"academic_year": "2026-2027",
			"due_date":      time.Now().UTC().AddDate(0, 1, 0).Format(time.RFC3339),
			"recurrence":    "termly",
		})
	}

	t.Run("create out of scope", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/fees/structures", token, newStructure(campusB.ID))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	var structure fees.FeeStructure
	t.Run("create", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/fees/structures", token, newStructure(campusA.ID))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status code = %d; body: %s", rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &structure); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
	})

	t.Run("assign to students", func(t *testing.T) {
		stu1 := testutil.CreateStudent(t, studentRepo, "Didier Musoda", campusA.ID, 5, "2026-2027")
		stu2 := testutil.CreateStudent(t, studentRepo, "Grace Ilunga", campusA.ID, 5, "2026-2027")

		body := marchallObj(t, map[string][]string{"student_ids": {stu1.ID, stu2.ID}})
		req, rec := newAuthRequest(http.MethodPost, fmt.Sprintf("/v1/fees/structures/%s/assign", structure.ID), token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status code = %d; body: %s", rec.Code, rec.Body.String())
		}

		var dues []fees.FeeDue
		if err := json.Unmarshal(rec.Body.Bytes(), &dues); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if len(dues) != 2 {
			t.Fatalf("len(dues) = %d, want 2", len(dues))
		}
		for _, due := range dues {
			if !due.BalanceAmount.Equal(structure.Amount) {
				t.Errorf("due balance = %s, want %s", due.BalanceAmount, structure.Amount)
			}
			if due.Status != fees.StatusPending {
				t.Errorf("due status = %s, want %s", due.Status, fees.StatusPending)
			}
		}
	})

	t.Run("query scoped", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/fees/structures", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantData: marchallList(t, structure)}, rec)
	})
}

func Test_feesApi_recordPayment(t *testing.T) {
	db.Reset()
	_, campusA, _, _ := seedTree(t)

	acctA := testutil.CreateUser(t, usrRepo, "Acct A", "acctaa", "accta@shule.cd", "", user.RoleAccountant, &campusA.ID, true)
	stu := testutil.CreateStudent(t, studentRepo, "Didier Musoda", campusA.ID, 5, "2026-2027")

	body := marchallObj(t, map[string]interface{}{
		"student_id":       stu.ID,
		"fee_structure_id": "fs-000",
		"amount_paid":      "500",
		"discount_amount":  "50",
		"late_fee":         "10",
		"payment_date":     time.Now().UTC().Format(time.RFC3339),
		"payment_method":   "mobile_money",
	})
	req, rec := newAuthRequest(http.MethodPost, "/v1/fees/payments", getToken(t, acctA), body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status code = %d; body: %s", rec.Code, rec.Body.String())
	}

	var payment fees.FeePayment
	if err := json.Unmarshal(rec.Body.Bytes(), &payment); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if !payment.TotalAmount.Equal(testutil.Dec(t, "460")) {
		t.Errorf("TotalAmount = %s, want 460", payment.TotalAmount)
	}
	if payment.PaymentStatus != "Completed" {
		t.Errorf("PaymentStatus = %s, want Completed", payment.PaymentStatus)
	}
}
