package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/user"
)

type branchApi struct {
	svc      *branch.Service
	resolver *branch.Resolver
	validate *validator.Validate
}

func registerBranchAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *branch.Service,
	resolver *branch.Resolver,
	validate *validator.Validate,
) {
	api := branchApi{
		svc:      svc,
		resolver: resolver,
		validate: validate,
	}

	bg := g.Group("/branches", jwt)
	bg.GET("", api.query)
	bg.POST("", api.create, adminMiddleware())
	bg.GET("/:id", api.retrieve)
	bg.DELETE("/:id", api.archive, adminMiddleware())
}

func branchIDParam(ctx echo.Context) (int, error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return 0, errHttpNotFound
	}
	return id, nil
}

// Handlers

func (api *branchApi) query(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	scope := api.resolver.ResolveScope(ctx.Request().Context(), actor)
	branches, err := api.svc.QueryScoped(ctx.Request().Context(), scope)
	if err != nil {
		return errors.Wrap(err, "querying branches")
	}
	if branches == nil {
		branches = []branch.Branch{}
	}
	return ctx.JSON(http.StatusOK, branches)
}

func (api *branchApi) create(ctx echo.Context) error {
	var data branch.NewBranch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBranch")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	// a root branch needs org-wide rights; a sub-branch needs manage
	// rights on the parent
	if data.ParentID == nil {
		if !actor.HasPermission(user.PermManageAllBranches) {
			return errHttpForbidden
		}
	} else if !api.resolver.CanManageBranch(ctx.Request().Context(), actor, *data.ParentID) {
		return errHttpForbidden
	}

	br, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating branch")
	}
	return ctx.JSON(http.StatusCreated, br)
}

func (api *branchApi) retrieve(ctx echo.Context) error {
	id, err := branchIDParam(ctx)
	if err != nil {
		return err
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if !api.resolver.CanAccessBranch(ctx.Request().Context(), actor, id) {
		return errHttpNotFound
	}

	br, err := api.svc.GetByID(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding branch by ID")
	}
	return ctx.JSON(http.StatusOK, br)
}

func (api *branchApi) archive(ctx echo.Context) error {
	id, err := branchIDParam(ctx)
	if err != nil {
		return err
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if !api.resolver.CanManageBranch(ctx.Request().Context(), actor, id) {
		return errHttpForbidden
	}

	if err := api.svc.Archive(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "archiving branch")
	}
	return ctx.NoContent(http.StatusNoContent)
}
