package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/analysis"
)

type analysisApi struct {
	session Classroom
	svc     Analyzer
}

func registerAnalysisAPI(g *echo.Group, session Classroom, svc Analyzer) {
	api := analysisApi{session: session, svc: svc}

	ag := g.Group("/ai")
	ag.GET("/state", api.state)
	ag.POST("/classroom-insights", api.classroomInsight)
	ag.POST("/code-review", api.codeReview)
	ag.POST("/message-suggest", api.suggestMessage)
}

type (
	codeReviewRequest struct {
		Language string `json:"language"`
	}

	suggestRequest struct {
		StudentID string `json:"student_id"`
		analysis.MessageContext
	}

	suggestResponse struct {
		analysis.Suggestion
		Text string `json:"text"`
	}
)

// Handlers

func (api *analysisApi) state(ctx echo.Context) error {
	states := make(map[string]analysis.State, len(analysis.Kinds))
	for k, st := range api.svc.States() {
		states[string(k)] = st
	}
	return ctx.JSON(http.StatusOK, states)
}

// classroomInsight summarizes the live roster and asks for an engagement analysis.
func (api *analysisApi) classroomInsight(ctx echo.Context) error {
	summaries := analysis.SummarizeClassroom(api.session.Students(), api.session.Screens())
	insight, err := api.svc.ClassroomInsight(ctx.Request().Context(), summaries)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, insight)
}

// codeReview submits the latest screenshot of every student that has one.
func (api *analysisApi) codeReview(ctx echo.Context) error {
	var data codeReviewRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to codeReviewRequest")
	}

	subs := analysis.CodeSubmissions(api.session.Students(), api.session.Screens())
	if len(subs) == 0 {
		return core.NewValidationError(errors.New("no student screenshots to review"))
	}

	review, err := api.svc.CodeReview(ctx.Request().Context(), subs, data.Language)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, review)
}

// suggestMessage fills the name and current activity from the roster when `student_id` is given.
func (api *analysisApi) suggestMessage(ctx echo.Context) error {
	var data suggestRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to suggestRequest")
	}

	mc := data.MessageContext
	if id := core.CleanString(data.StudentID); id != "" {
		st, ok := api.session.Student(id)
		if !ok {
			return errHttpNotFound
		}
		if mc.Name == "" {
			mc.Name = st.Username
		}
		if sample, ok := api.session.Screen(id); ok && mc.CurrentActivity == "" {
			mc.CurrentActivity = sample.ActiveApp
		}
	}
	if mc.Name = core.CleanString(mc.Name); mc.Name == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "name", Error: "name is required"})
	}

	sugg, err := api.svc.SuggestMessage(ctx.Request().Context(), mc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, suggestResponse{Suggestion: sugg, Text: sugg.Text()})
}
