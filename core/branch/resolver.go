package branch

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

var ErrNotFound = errors.New("branch not found")

type (
	Repository interface {
		CreateBranch(ctx context.Context, br Branch, exec ...core.DBExecutor) (Branch, error)
		GetBranch(ctx context.Context, id int, exec ...core.DBExecutor) (Branch, error)
		QueryBranches(ctx context.Context, ids []int, exec ...core.DBExecutor) ([]Branch, error)
		ArchiveBranch(ctx context.Context, id int, exec ...core.DBExecutor) error
		// ChildBranchIDs returns the direct, non-deleted children of a branch.
		ChildBranchIDs(ctx context.Context, parentID int, exec ...core.DBExecutor) ([]int, error)
	}

	// ClosureCache caches computed descendant closures. A nil cache is valid.
	ClosureCache interface {
		GetDescendants(ctx context.Context, branchID int) ([]int, bool)
		SetDescendants(ctx context.Context, branchID int, ids []int)
		Invalidate(ctx context.Context, branchID int)
	}

	// Resolver computes branch access scopes. It is total: every code path
	// returns a scope, degrading to the most restrictive one on any ambiguity,
	// because a false "no access" is safe while a false "full access" is not.
	Resolver struct {
		repo   Repository
		cache  ClosureCache // may be nil
		logger core.Logger
	}
)

func NewResolver(repo Repository, cache ClosureCache, logger core.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// ResolveScope computes the set of branches the actor may act on.
//
// SuperAdmin and cross-branch permission grants short-circuit to the sentinel
// before any tree traversal; a BranchAdmin gets the descendant closure of its
// home branch; everyone else gets its home branch, if any.
func (r *Resolver) ResolveScope(ctx context.Context, actor *Actor) AccessScope {
	if actor == nil {
		return EmptyScope()
	}

	switch actor.Role {
	case user.RoleSuperAdmin:
		return AllBranches()

	case user.RoleBranchAdmin:
		if actor.BranchID == nil {
			return EmptyScope()
		}
		ids := r.descendants(ctx, *actor.BranchID)
		return ScopeOf(append(ids, *actor.BranchID)...)

	default:
		if actor.HasAnyPermission(user.CrossBranchPerms...) {
			return AllBranches()
		}
		if actor.BranchID != nil {
			return ScopeOf(*actor.BranchID)
		}
		return EmptyScope()
	}
}

// CanAccessBranch reports whether the actor's scope covers branchID.
func (r *Resolver) CanAccessBranch(ctx context.Context, actor *Actor, branchID int) bool {
	return r.ResolveScope(ctx, actor).Contains(branchID)
}

// CanManageBranch reports whether the actor may administer branchID.
// A "manage all branches" capability grants it everywhere; otherwise it falls
// back to plain access.
func (r *Resolver) CanManageBranch(ctx context.Context, actor *Actor, branchID int) bool {
	if actor == nil {
		return false
	}
	if actor.Role == user.RoleSuperAdmin || actor.HasPermission(user.PermManageAllBranches) {
		return true
	}
	return r.CanAccessBranch(ctx, actor, branchID)
}

// descendants computes the transitive closure of rootID over the branch tree
// as a worklist BFS, so depth is unbounded and cycles cannot loop. A missing
// or malformed hierarchy entry means "no descendants", never an error.
func (r *Resolver) descendants(ctx context.Context, rootID int) []int {
	if r.cache != nil {
		if ids, ok := r.cache.GetDescendants(ctx, rootID); ok {
			return ids
		}
	}

	var ids []int
	visited := map[int]struct{}{rootID: {}}
	queue := []int{rootID}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		children, err := r.repo.ChildBranchIDs(ctx, next)
		if err != nil {
			r.logger.Warn("branch hierarchy lookup failed; treating as no descendants", err)
			continue
		}
		for _, child := range children {
			if _, ok := visited[child]; ok {
				continue
			}
			visited[child] = struct{}{}
			ids = append(ids, child)
			queue = append(queue, child)
		}
	}

	if r.cache != nil {
		r.cache.SetDescendants(ctx, rootID, ids)
	}
	return ids
}

// Service exposes plain branch administration on top of the Repository.
type Service struct {
	repo   Repository
	cache  ClosureCache // may be nil
	logger core.Logger
}

func NewService(repo Repository, cache ClosureCache, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

func (svc *Service) Create(ctx context.Context, nb NewBranch) (Branch, error) {
	br, err := svc.repo.CreateBranch(ctx, Branch{Name: nb.Name, ParentID: nb.ParentID})
	if err != nil {
		return Branch{}, err
	}
	svc.invalidateAncestors(ctx, br)
	return br, nil
}

func (svc *Service) GetByID(ctx context.Context, id int) (Branch, error) {
	return svc.repo.GetBranch(ctx, id)
}

// QueryScoped lists the branches visible within the given scope.
func (svc *Service) QueryScoped(ctx context.Context, scope AccessScope) ([]Branch, error) {
	if scope.IsEmpty() {
		return []Branch{}, nil
	}
	return svc.repo.QueryBranches(ctx, scope.IDs())
}

func (svc *Service) Archive(ctx context.Context, id int) error {
	br, err := svc.repo.GetBranch(ctx, id)
	if err != nil {
		return err
	}
	if err := svc.repo.ArchiveBranch(ctx, id); err != nil {
		return err
	}
	svc.invalidateAncestors(ctx, br)
	return nil
}

// invalidateAncestors drops the cached closures the branch participates in.
func (svc *Service) invalidateAncestors(ctx context.Context, br Branch) {
	if svc.cache == nil {
		return
	}
	svc.cache.Invalidate(ctx, br.ID)
	seen := map[int]struct{}{br.ID: {}}
	for parentID := br.ParentID; parentID != nil; {
		if _, ok := seen[*parentID]; ok {
			break // a cycle in the tree would never terminate
		}
		seen[*parentID] = struct{}{}
		svc.cache.Invalidate(ctx, *parentID)

		parent, err := svc.repo.GetBranch(ctx, *parentID)
		if err != nil {
			svc.logger.Warn("branch cache invalidation stopped early", err)
			break
		}
		parentID = parent.ParentID
	}
}

// ApplyScope restricts a query to the rows the scope allows on branchColumn.
// The sentinel scope is a no-op; the empty scope matches nothing.
func ApplyScope(qb sq.SelectBuilder, scope AccessScope, branchColumn string) sq.SelectBuilder {
	if scope.All() {
		return qb
	}
	if scope.IsEmpty() {
		return qb.Where("1 = 0")
	}
	return qb.Where(sq.Eq{branchColumn: scope.IDs()})
}
