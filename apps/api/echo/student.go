package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/student"
)

type studentApi struct {
	svc      *student.Service
	resolver *branch.Resolver
	validate *validator.Validate
}

func registerStudentAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *student.Service,
	resolver *branch.Resolver,
	validate *validator.Validate,
) {
	api := studentApi{
		svc:      svc,
		resolver: resolver,
		validate: validate,
	}

	sg := g.Group("/students", jwt)
	sg.GET("", api.query)
	sg.POST("", api.create, adminMiddleware())
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.update, adminMiddleware())
}

// scopedStudent loads the student and hides it when the actor's scope does
// not cover its branch.
func (api *studentApi) scopedStudent(ctx echo.Context) (student.Student, error) {
	actor, err := getContextActor(ctx)
	if err != nil {
		return student.Student{}, err
	}

	st, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return student.Student{}, errHttpNotFound
		}
		return student.Student{}, errors.Wrap(err, "finding student by ID")
	}
	if !api.resolver.CanAccessBranch(ctx.Request().Context(), actor, st.BranchID) {
		return student.Student{}, errHttpNotFound
	}
	return st, nil
}

// Handlers

func (api *studentApi) query(ctx echo.Context) error {
	filter := new(student.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []student.Student{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	scope := api.resolver.ResolveScope(ctx.Request().Context(), actor)
	if scope.IsEmpty() {
		return ctx.JSON(http.StatusOK, []student.Student{})
	}
	if !scope.All() {
		filter.BranchIDs = scope.IDs()
	}

	students, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *studentApi) create(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if !api.resolver.CanManageBranch(ctx.Request().Context(), actor, data.BranchID) {
		return errHttpForbidden
	}

	st, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	st, err := api.scopedStudent(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *studentApi) update(ctx echo.Context) error {
	st, err := api.scopedStudent(ctx)
	if err != nil {
		return err
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if !api.resolver.CanManageBranch(ctx.Request().Context(), actor, st.BranchID) {
		return errHttpForbidden
	}

	var data student.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	if err := data.Validate(api.validate, st); err != nil {
		return err
	}

	st, err = api.svc.Update(ctx.Request().Context(), st.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, st)
}
