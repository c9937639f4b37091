package user

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

// Roles
const (
	RoleSuperAdmin  = "superadmin"
	RoleBranchAdmin = "branchadmin"
	RoleAccountant  = "accountant"
	RoleRegistrar   = "registrar"
	RoleTeacher     = "teacher"
)

// Permission slugs attached to roles. Only the system.* slugs matter to the
// branch access resolver; the rest gate individual endpoints.
const (
	PermCrossBranchAccess = "system.cross_branch_access"
	PermManageAllBranches = "system.manage_all_branches"
	PermViewAllBranches   = "system.view_all_branches"

	PermManageFees  = "fees.manage"
	PermWaiveFees   = "fees.waive"
	PermViewReports = "reports.view"
)

var AllRoles = []string{RoleSuperAdmin, RoleBranchAdmin, RoleAccountant, RoleRegistrar, RoleTeacher}

var rolePriority = map[string]int{
	RoleTeacher:     1,
	RoleRegistrar:   1,
	RoleAccountant:  2,
	RoleBranchAdmin: 3,
	RoleSuperAdmin:  4,
}

// RolePriority ranks roles so callers can forbid privilege escalation.
// Unknown roles rank lowest.
func RolePriority(role string) int {
	return rolePriority[role]
}

// CrossBranchPerms are the permission slugs that widen a non-admin's scope
// to every branch.
var CrossBranchPerms = []string{PermCrossBranchAccess, PermManageAllBranches, PermViewAllBranches}

// DefaultRolePermissions seeds the role_permissions table. Individual grants
// can be added or revoked per role afterwards.
var DefaultRolePermissions = map[string][]string{
	RoleSuperAdmin:  {PermCrossBranchAccess, PermManageAllBranches, PermViewAllBranches, PermManageFees, PermWaiveFees, PermViewReports},
	RoleBranchAdmin: {PermManageFees, PermWaiveFees, PermViewReports},
	RoleAccountant:  {PermManageFees, PermWaiveFees, PermViewReports},
	RoleRegistrar:   {PermViewReports},
	RoleTeacher:     {},
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	BranchID     *int      `json:"branch_id"` // home branch; nil for SuperAdmin
	IsActive     *bool     `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) SetActive(active bool) {
	u.IsActive = &active
}

func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

func (u *User) IsBranchAdmin() bool {
	return u.Role == RoleBranchAdmin
}

func (u *User) IsAdmin() bool {
	return u.IsSuperAdmin() || u.IsBranchAdmin()
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required"`
	Username        string `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Role            string `json:"role" validate:"required,role"`
	BranchID        *int   `json:"branch_id"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string `json:"name"`
	Username        string `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Role            string `json:"role" validate:"omitempty,role"`
	BranchID        *int   `json:"branch_id"`
	IsActive        *bool  `json:"is_active"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, validate *validator.Validate, origUsr User, svc *Service) error {
	if name := core.CleanString(uu.Name); name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}
	if uname := core.CleanString(uu.Username, true /* lower */); uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}
	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}
	if uu.Role == "" {
		uu.Role = origUsr.Role
	}
	if uu.BranchID == nil {
		uu.BranchID = origUsr.BranchID
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error {
	return validate.Struct(rp)
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Role        string    `query:"role"`
	BranchID    *int      `query:"branch_id"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Role == "" && qf.BranchID == nil && qf.IsActive == nil &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Role = core.CleanString(qf.Role, true /* lower */)
}

// GetFilter looks a single User up by exactly one of its fields.
type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail string
}
