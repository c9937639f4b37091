package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

type userRepository struct {
	exec core.DBExecutor
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{exec: exec}
}

type userRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	Role         string    `db:"role"`
	BranchID     null.Int  `db:"branch_id"`
	IsActive     null.Bool `db:"is_active"`
	PasswordHash []byte    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
	LastLogin    null.Time `db:"last_login"`
}

var userColumns = []string{
	"id", "name", "username", "email", "role", "branch_id", "is_active",
	"password_hash", "created_at", "updated_at", "last_login",
}

func (repo userRepository) pack(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     usr.Username,
		Email:        usr.Email,
		Role:         usr.Role,
		BranchID:     nullIntFromPtr(usr.BranchID),
		IsActive:     null.BoolFromPtr(usr.IsActive),
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) unpack(row userRow) user.User {
	return user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username,
		Email:        row.Email,
		Role:         row.Role,
		BranchID:     intPtrFromNull(row.BranchID),
		IsActive:     row.IsActive.Ptr(),
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		LastLogin:    row.LastLogin.Time,
	}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	qb := psql.Select("username", "email").
		From("users").
		Where(sq.Or{sq.Eq{"username": username}, sq.Eq{"email": email}})
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		qb = qb.Where(sq.NotEq{"id": ids})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	var rows []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	if err = getExec(repo.exec, exec).SelectContext(ctx, &rows, query, args...); err != nil {
		return errors.Wrap(err, "checking uniqueness")
	}
	for _, row := range rows {
		if username != "" && row.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && row.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	row := repo.pack(usr)

	query, args, err := psql.Insert("users").
		Columns(userColumns...).
		Values(row.ID, row.Name, row.Username, row.Email, row.Role, row.BranchID, row.IsActive,
			row.PasswordHash, row.CreatedAt, row.UpdatedAt, row.LastLogin).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	if _, err = getExec(repo.exec, exec).ExecContext(ctx, query, args...); err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	qb := psql.Select(userColumns...).From("users")
	if filter != nil {
		if filter.Search != "" {
			search := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.ILike{"name": search},
				sq.ILike{"username": search},
				sq.ILike{"email": search},
			})
		}
		if filter.Role != "" {
			qb = qb.Where(sq.Eq{"role": filter.Role})
		}
		if filter.BranchID != nil {
			qb = qb.Where(sq.Eq{"branch_id": *filter.BranchID})
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.CreatedTo})
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	for _, ord := range ordering {
		qb = qb.OrderBy(ord.String())
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []userRow
	if err = getExec(repo.exec, exec).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.unpack(row))
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	qb := psql.Select(userColumns...).From("users")
	switch {
	case filter.ID != "":
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.Username != "":
		qb = qb.Where(sq.Eq{"username": filter.Username})
	case filter.Email != "":
		qb = qb.Where(sq.Eq{"email": filter.Email})
	case filter.UsernameOrEmail != "":
		qb = qb.Where(sq.Or{
			sq.Eq{"username": filter.UsernameOrEmail},
			sq.Eq{"email": filter.UsernameOrEmail},
		})
	default:
		return user.User{}, user.ErrNotFound
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	var row userRow
	if err = getExec(repo.exec, exec).GetContext(ctx, &row, query, args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "getting user")
	}
	return repo.unpack(row), nil
}

func (repo userRepository) updateMap(row userRow) map[string]interface{} {
	return map[string]interface{}{
		"name":          row.Name,
		"username":      row.Username,
		"email":         row.Email,
		"role":          row.Role,
		"branch_id":     row.BranchID,
		"is_active":     row.IsActive,
		"password_hash": row.PasswordHash,
		"updated_at":    row.UpdatedAt,
		"last_login":    row.LastLogin,
	}
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	row := repo.pack(usr)
	query, args, err := psql.Update("users").
		SetMap(repo.updateMap(row)).
		Where(sq.Eq{"id": usr.ID}).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	res, err := getExec(repo.exec, exec).ExecContext(ctx, query, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	} else if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	if _, err := repo.UpdateUser(ctx, usr, exec...); err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return repo.CreateUser(ctx, usr, exec...)
		}
		return user.User{}, err
	}
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	query, args, err := psql.Delete("users").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := getExec(repo.exec, exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return int(n), nil
}

func (repo userRepository) GetRolePermissions(ctx context.Context, role string, exec ...core.DBExecutor) ([]string, error) {
	query, args, err := psql.Select("permission").
		From("role_permissions").
		Where(sq.Eq{"role": role}).
		OrderBy("permission ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var perms []string
	if err = getExec(repo.exec, exec).SelectContext(ctx, &perms, query, args...); err != nil {
		return nil, errors.Wrap(err, "getting role permissions")
	}
	if len(perms) == 0 {
		return nil, user.ErrNotFound
	}
	return perms, nil
}
