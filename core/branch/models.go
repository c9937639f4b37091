package branch

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

// Branch is an organizational unit (e.g. a school campus) arranged in a tree.
// Root branches have no parent.
type Branch struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int      `json:"parent_branch_id"`
	Deleted   bool      `json:"-"` // soft-delete; archived branches drop out of every scope
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Actor is the authenticated principal a scope is resolved for.
// Permissions carries the actor's resolved permission slugs; the resolver
// never goes back to the permission store.
type Actor struct {
	UserID      string
	Role        string
	BranchID    *int
	Permissions []string
}

func (a *Actor) HasPermission(slug string) bool {
	if a == nil {
		return false
	}
	for _, p := range a.Permissions {
		if p == slug {
			return true
		}
	}
	return false
}

func (a *Actor) HasAnyPermission(slugs ...string) bool {
	for _, slug := range slugs {
		if a.HasPermission(slug) {
			return true
		}
	}
	return false
}

// AccessScope is the set of branches an actor may act on: either the
// sentinel "all branches" or an explicit, deduplicated set of branch IDs.
// The zero value is the empty scope (no access).
type AccessScope struct {
	all bool
	ids map[int]struct{}
}

// AllBranches returns the sentinel scope covering every branch.
func AllBranches() AccessScope {
	return AccessScope{all: true}
}

// ScopeOf returns an explicit scope over the given branch IDs, deduplicated.
func ScopeOf(ids ...int) AccessScope {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return AccessScope{ids: set}
}

// EmptyScope returns the scope granting no access at all.
func EmptyScope() AccessScope {
	return AccessScope{}
}

func (s AccessScope) All() bool {
	return s.all
}

func (s AccessScope) IsEmpty() bool {
	return !s.all && len(s.ids) == 0
}

func (s AccessScope) Contains(branchID int) bool {
	if s.all {
		return true
	}
	_, ok := s.ids[branchID]
	return ok
}

// IDs returns the explicit branch IDs in ascending order; nil for the
// sentinel or empty scope.
func (s AccessScope) IDs() []int {
	if s.all || len(s.ids) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// NewBranch contains information needed to create a new Branch.
type NewBranch struct {
	Name     string `json:"name" validate:"required"`
	ParentID *int   `json:"parent_branch_id"`
}

func (nb *NewBranch) Validate(validate *validator.Validate) error {
	nb.Name = core.CleanString(nb.Name)
	return validate.Struct(nb)
}
