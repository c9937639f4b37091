package dummydb

import (
	"context"
	"sync"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/fees"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

type (
	DB struct {
		user    *userTable
		branch  *branchTable
		student *studentTable
		fees    *feesTables
		audit   *auditTable
	}

	userTable struct {
		sync.RWMutex
		table     map[string]*user.User
		rolePerms map[string][]string
	}

	branchTable struct {
		sync.RWMutex
		table   map[int]*branch.Branch
		pkCount int
	}

	studentTable struct {
		sync.RWMutex
		table map[string]*student.Student
	}

	feesTables struct {
		sync.RWMutex
		structures  map[string]*fees.FeeStructure
		dues        map[string]*fees.FeeDue
		payments    map[string]*fees.FeePayment
		allocations map[string]*fees.Allocation
	}

	auditTable struct {
		sync.RWMutex
		table []core.AuditEntry
	}
)

var _ core.DB = (*DB)(nil) // interface compliance check

func Open() (*DB, error) {
	db := &DB{
		user: &userTable{
			table:     make(map[string]*user.User),
			rolePerms: make(map[string][]string),
		},
		branch:  &branchTable{table: make(map[int]*branch.Branch)},
		student: &studentTable{table: make(map[string]*student.Student)},
		fees: &feesTables{
			structures:  make(map[string]*fees.FeeStructure),
			dues:        make(map[string]*fees.FeeDue),
			payments:    make(map[string]*fees.FeePayment),
			allocations: make(map[string]*fees.Allocation),
		},
		audit: &auditTable{},
	}
	for role, perms := range user.DefaultRolePermissions {
		db.user.rolePerms[role] = perms
	}
	return db, nil
}

// Reset empties every table and reseeds the default role permissions.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.rolePerms = make(map[string][]string)
	for role, perms := range user.DefaultRolePermissions {
		db.user.rolePerms[role] = perms
	}
	db.user.Unlock()

	db.branch.Lock()
	db.branch.table = make(map[int]*branch.Branch)
	db.branch.pkCount = 0
	db.branch.Unlock()

	db.student.Lock()
	db.student.table = make(map[string]*student.Student)
	db.student.Unlock()

	db.fees.Lock()
	db.fees.structures = make(map[string]*fees.FeeStructure)
	db.fees.dues = make(map[string]*fees.FeeDue)
	db.fees.payments = make(map[string]*fees.FeePayment)
	db.fees.allocations = make(map[string]*fees.Allocation)
	db.fees.Unlock()

	db.audit.Lock()
	db.audit.table = nil
	db.audit.Unlock()
}

// RunInTx has no rollback here; services validate a whole batch before
// mutating anything, so aborted batches leave the tables untouched anyway.
func (db *DB) RunInTx(_ context.Context, fn func(exec core.DBExecutor) error) error {
	return fn(nil)
}
