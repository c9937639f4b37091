package sqlxrepos

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// getExec prefers the transaction handed down by a service over the
// repository's own connection.
func getExec(repoExec core.DBExecutor, svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repoExec
}

// scopeFor maps the "nil means unrestricted" branch-ID convention onto an
// access scope so queries can share branch.ApplyScope.
func scopeFor(branchIDs []int) branch.AccessScope {
	if branchIDs == nil {
		return branch.AllBranches()
	}
	return branch.ScopeOf(branchIDs...)
}

func joinColumns(columns []string) string {
	return strings.Join(columns, ", ")
}

func nullIntFromPtr(i *int) null.Int {
	if i == nil {
		return null.NewInt(0, false)
	}
	return null.IntFrom(*i)
}

func intPtrFromNull(n null.Int) *int {
	if !n.Valid {
		return nil
	}
	i := n.Int
	return &i
}
