package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/fees"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

type feesApi struct {
	svc        *fees.Service
	studentSvc *student.Service
	resolver   *branch.Resolver
	validate   *validator.Validate
}

func registerFeesAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *fees.Service,
	studentSvc *student.Service,
	resolver *branch.Resolver,
	validate *validator.Validate,
) {
	api := feesApi{
		svc:        svc,
		studentSvc: studentSvc,
		resolver:   resolver,
		validate:   validate,
	}

	fg := g.Group("/fees", jwt)

	fg.POST("/structures", api.createStructure, permissionMiddleware(user.PermManageFees))
	fg.GET("/structures", api.queryStructures)
	fg.POST("/structures/:id/assign", api.assignStructure, permissionMiddleware(user.PermManageFees))

	fg.POST("/payments", api.recordPayment, permissionMiddleware(user.PermManageFees))
	fg.GET("/payments/:id", api.retrievePayment)
	fg.POST("/payments/:id/allocate", api.allocate, permissionMiddleware(user.PermManageFees))

	fg.POST("/dues/:id/waive", api.waiveDue, permissionMiddleware(user.PermWaiveFees))

	fg.GET("/overdue", api.overdue, permissionMiddleware(user.PermViewReports))
	fg.GET("/report", api.report, permissionMiddleware(user.PermViewReports))

	// dues are read per student
	g.GET("/students/:id/dues", api.studentDues, jwt)
}

// scopedReportFilter binds the report filter and narrows it to the actor's
// scope. ok is false when the scope is empty and the handler must return an
// empty result without touching the engine.
func (api *feesApi) scopedReportFilter(ctx echo.Context) (filter fees.ReportFilter, ok bool, err error) {
	if err = ctx.Bind(&filter); err != nil {
		return fees.ReportFilter{}, false, errors.Wrap(err, "binding to ReportFilter")
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return fees.ReportFilter{}, false, err
	}
	scope := api.resolver.ResolveScope(ctx.Request().Context(), actor)
	if scope.IsEmpty() {
		return fees.ReportFilter{}, false, nil
	}
	if !scope.All() {
		filter.BranchIDs = scope.IDs()
	}
	return filter, true, nil
}

// scopedStudent hides students outside the actor's scope.
func (api *feesApi) scopedStudent(ctx echo.Context, studentID string) (student.Student, error) {
	actor, err := getContextActor(ctx)
	if err != nil {
		return student.Student{}, err
	}

	st, err := api.studentSvc.GetByID(ctx.Request().Context(), studentID)
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

func (api *feesApi) createStructure(ctx echo.Context) error {
	var data fees.NewFeeStructure
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeeStructure")
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

	structure, err := api.svc.CreateStructure(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating fee structure")
	}
	return ctx.JSON(http.StatusCreated, structure)
}

func (api *feesApi) queryStructures(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	scope := api.resolver.ResolveScope(ctx.Request().Context(), actor)
	if scope.IsEmpty() {
		return ctx.JSON(http.StatusOK, []fees.FeeStructure{})
	}

	var branchIDs []int
	if !scope.All() {
		branchIDs = scope.IDs()
	}
	structures, err := api.svc.QueryStructures(ctx.Request().Context(), branchIDs, ctx.QueryParam("academic_year"))
	if err != nil {
		return errors.Wrap(err, "querying fee structures")
	}
	if structures == nil {
		structures = []fees.FeeStructure{}
	}
	return ctx.JSON(http.StatusOK, structures)
}

func (api *feesApi) assignStructure(ctx echo.Context) error {
	var data AssignStructureRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssignStructureRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	structure, err := api.svc.GetStructure(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "loading fee structure")
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if !api.resolver.CanManageBranch(ctx.Request().Context(), actor, structure.BranchID) {
		return errHttpForbidden
	}

	dues, err := api.svc.AssignStructure(ctx.Request().Context(), structure.ID, data.StudentIDs...)
	if err != nil {
		return errors.Wrap(err, "assigning fee structure")
	}
	return ctx.JSON(http.StatusCreated, dues)
}

func (api *feesApi) recordPayment(ctx echo.Context) error {
	var data fees.NewFeePayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeePayment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if _, err := api.scopedStudent(ctx, data.StudentID); err != nil {
		return err
	}

	payment, err := api.svc.RecordPayment(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusCreated, payment)
}

func (api *feesApi) retrievePayment(ctx echo.Context) error {
	payment, err := api.svc.GetPayment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == fees.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding payment by ID")
	}

	if _, err := api.scopedStudent(ctx, payment.StudentID); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, payment)
}

func (api *feesApi) allocate(ctx echo.Context) error {
	var data AllocateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AllocateRequest")
	}

	payment, err := api.svc.GetPayment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == fees.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding payment by ID")
	}
	if _, err := api.scopedStudent(ctx, payment.StudentID); err != nil {
		return err
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	// every due in the batch must be in scope, same as the payment's student
	seen := make(map[string]struct{}, len(data.DueIDs))
	for _, dueID := range data.DueIDs {
		if _, ok := seen[dueID]; ok {
			continue
		}
		seen[dueID] = struct{}{}

		due, err := api.svc.GetDue(ctx.Request().Context(), dueID)
		if err != nil {
			if errors.Cause(err) == fees.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrapf(err, "finding due %s", dueID)
		}
		if !api.resolver.CanAccessBranch(ctx.Request().Context(), actor, due.BranchID) {
			return errHttpNotFound
		}
	}

	if err := api.svc.ApplyPaymentToDues(ctx.Request().Context(), payment.ID, data.DueIDs, data.Amounts, actor.UserID); err != nil {
		return errors.Wrap(err, "allocating payment")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Payment allocated."})
}

func (api *feesApi) waiveDue(ctx echo.Context) error {
	var data WaiveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to WaiveRequest")
	}

	due, err := api.svc.GetDue(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == fees.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding due by ID")
	}

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if !api.resolver.CanAccessBranch(ctx.Request().Context(), actor, due.BranchID) {
		return errHttpNotFound
	}

	due, err = api.svc.WaiveDue(ctx.Request().Context(), due.ID, data.Reason, actor.UserID)
	if err != nil {
		return errors.Wrap(err, "waiving due")
	}
	return ctx.JSON(http.StatusOK, due)
}

func (api *feesApi) studentDues(ctx echo.Context) error {
	st, err := api.scopedStudent(ctx, ctx.Param("id"))
	if err != nil {
		return err
	}

	filter := new(fees.DuesFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to DuesFilter")
	}

	dues, err := api.svc.GetStudentDues(ctx.Request().Context(), st.ID, filter)
	if err != nil {
		return errors.Wrap(err, "getting student dues")
	}
	return ctx.JSON(http.StatusOK, dues)
}

func (api *feesApi) overdue(ctx echo.Context) error {
	filter, ok, err := api.scopedReportFilter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, fees.AgingSummary{})
	}

	summary, err := api.svc.GetOverdueFees(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "getting overdue fees")
	}
	return ctx.JSON(http.StatusOK, summary)
}

func (api *feesApi) report(ctx echo.Context) error {
	filter, ok, err := api.scopedReportFilter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, fees.DuesReport{})
	}

	report, err := api.svc.GenerateDuesReport(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "generating dues report")
	}
	return ctx.JSON(http.StatusOK, report)
}

type (
	AssignStructureRequest struct {
		StudentIDs []string `json:"student_ids" validate:"required,min=1"`
	}

	AllocateRequest struct {
		DueIDs  []string          `json:"due_ids"`
		Amounts []decimal.Decimal `json:"amounts"`
	}

	WaiveRequest struct {
		Reason string `json:"reason"`
	}
)
