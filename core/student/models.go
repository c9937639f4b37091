package student

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

type Student struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BranchID      int       `json:"branch_id"`
	Grade         int       `json:"grade"`
	AcademicYear  string    `json:"academic_year"`
	GuardianName  string    `json:"guardian_name"`
	GuardianEmail string    `json:"guardian_email"`
	IsActive      *bool     `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

// NewStudent contains information needed to enroll a new Student.
type NewStudent struct {
	Name          string `json:"name" validate:"required"`
	BranchID      int    `json:"branch_id" validate:"required"`
	Grade         int    `json:"grade" validate:"required,min=1"`
	AcademicYear  string `json:"academic_year" validate:"required"`
	GuardianName  string `json:"guardian_name"`
	GuardianEmail string `json:"guardian_email" validate:"omitempty,email"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.AcademicYear = core.CleanString(ns.AcademicYear)
	ns.GuardianName = core.CleanString(ns.GuardianName)
	ns.GuardianEmail = core.CleanString(ns.GuardianEmail, true /* lower */)
	return validate.Struct(ns)
}

// UpdateStudent defines what information may be provided to modify an
// enrolled Student. Zero-valued fields keep their current value.
type UpdateStudent struct {
	Name          string `json:"name"`
	Grade         int    `json:"grade" validate:"omitempty,min=1"`
	AcademicYear  string `json:"academic_year"`
	GuardianName  string `json:"guardian_name"`
	GuardianEmail string `json:"guardian_email" validate:"omitempty,email"`
	IsActive      *bool  `json:"is_active"`
}

func (us *UpdateStudent) Validate(validate *validator.Validate, orig Student) error {
	if name := core.CleanString(us.Name); name != "" {
		us.Name = name
	} else {
		us.Name = orig.Name
	}
	if us.Grade == 0 {
		us.Grade = orig.Grade
	}
	if year := core.CleanString(us.AcademicYear); year != "" {
		us.AcademicYear = year
	} else {
		us.AcademicYear = orig.AcademicYear
	}
	if gname := core.CleanString(us.GuardianName); gname != "" {
		us.GuardianName = gname
	} else {
		us.GuardianName = orig.GuardianName
	}
	if email := core.CleanString(us.GuardianEmail, true /* lower */); email != "" {
		us.GuardianEmail = email
	} else {
		us.GuardianEmail = orig.GuardianEmail
	}
	if us.IsActive == nil {
		us.IsActive = orig.IsActive
	}
	return validate.Struct(us)
}

// QueryFilter narrows student listings. BranchIDs comes from the caller's
// resolved access scope, never from request input.
type QueryFilter struct {
	Search       string `query:"search"`
	Grade        int    `query:"grade"`
	AcademicYear string `query:"academic_year"`
	IsActive     *bool  `query:"is_active"`
	BranchIDs    []int  `query:"-"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Grade == 0 && qf.AcademicYear == "" &&
		qf.IsActive == nil && qf.BranchIDs == nil
}
