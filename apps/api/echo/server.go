package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/analysis"
	"github.com/trezcool/classguard/core/classroom"
	"github.com/trezcool/classguard/core/command"
)

type (
	// Classroom is the read side of a classroom.Session plus its command dispatcher.
	Classroom interface {
		State() classroom.State
		Connected() bool
		OnlineCount() int
		Students() map[string]classroom.Student
		StudentList() []classroom.Student
		Student(id string) (classroom.Student, bool)
		Screens() map[string]classroom.ScreenSample
		Screen(id string) (classroom.ScreenSample, bool)
		PollResults() []classroom.PollTally
		Commands() *command.Dispatcher
	}

	Analyzer interface {
		ClassroomInsight(ctx context.Context, students map[string]analysis.StudentSummary) (analysis.Insight, error)
		CodeReview(ctx context.Context, subs []analysis.CodeSubmission, language string) (analysis.CodeReview, error)
		SuggestMessage(ctx context.Context, mc analysis.MessageContext) (analysis.Suggestion, error)
		States() map[analysis.Kind]analysis.State
	}

	Options struct {
		Address        string
		AppName        string
		Debug          bool
		TestMode       bool
		DisableReqLogs bool

		Logger   core.Logger
		Gatherer prometheus.Gatherer // serves /metrics when set
		Session  Classroom
		Analysis Analyzer

		// SignalShutdown is called when a handler fails with a core.shutdown error.
		SignalShutdown func()
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	if opts.Logger == nil {
		opts.Logger = core.NopLogger
	}
	if opts.SignalShutdown == nil {
		opts.SignalShutdown = func() {}
	}
	if opts.AppName == "" {
		opts.AppName = "ClassGuard"
	}
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.opts.Debug || s.opts.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.SignalShutdown)
	s.app.Debug = s.opts.Debug

	s.app.GET("/", s.home)
	if s.opts.Gatherer != nil {
		s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.app.Group("/v1", noStoreMiddleware())
	registerClassroomAPI(v1, s.opts.Session)
	registerCommandAPI(v1, s.opts.Session)
	if s.opts.Analysis != nil {
		registerAnalysisAPI(v1, s.opts.Session, s.opts.Analysis)
	}
}

// Start blocks until the server stops. http.ErrServerClosed is not an error.
func (s *server) Start() error {
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.AppName+" API!")
}
