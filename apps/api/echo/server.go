package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/fees"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool

		UserSvc    *user.Service
		BranchSvc  *branch.Service
		StudentSvc *student.Service
		FeesSvc    *fees.Service
		Resolver   *branch.Resolver

		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server interface {
		http.Handler
		Start()
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
		Shutdown(context.Context) error
		Close() error
	}

	server struct {
		opts   *Options
		app    *echo.Echo
		errCh  chan error
		shutCh chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts:   opts,
		app:    echo.New(),
		errCh:  make(chan error, 1),
		shutCh: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	signal.Notify(s.shutCh, os.Interrupt, syscall.SIGTERM)

	appJWTConfig.SigningKey = []byte(core.Conf.SecretKey)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = core.Conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(appJWTConfig)

	registerUserAPI(v1, jwt, s.opts.UserSvc, s.opts.Validate, s.opts.Translator)
	registerBranchAPI(v1, jwt, s.opts.BranchSvc, s.opts.Resolver, s.opts.Validate)
	registerStudentAPI(v1, jwt, s.opts.StudentSvc, s.opts.Resolver, s.opts.Validate)
	registerFeesAPI(v1, jwt, s.opts.FeesSvc, s.opts.StudentSvc, s.opts.Resolver, s.opts.Validate)
}

func (s *server) Start() {
	s.errCh <- s.app.Start(s.opts.Address)
}

func (s *server) Errors() <-chan error {
	return s.errCh
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutCh
}

func (s *server) signalShutdown() {
	s.shutCh <- syscall.SIGTERM
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Shule API!")
}
