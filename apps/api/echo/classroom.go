package echoapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/classroom"
	"github.com/trezcool/classguard/core/command"
)

type classroomApi struct {
	session Classroom
}

func registerClassroomAPI(g *echo.Group, session Classroom) {
	api := classroomApi{session: session}

	g.GET("/status", api.status)
	g.GET("/students", api.queryStudents)
	g.GET("/students/:id", api.retrieveStudent)
	g.GET("/screens", api.queryScreens)
	g.GET("/screens/:id", api.retrieveScreen)
	g.GET("/polls/results", api.pollResults)
}

type statusResponse struct {
	Connected      bool              `json:"connected"`
	State          classroom.State   `json:"state"`
	StudentsOnline int               `json:"students_online"`
	StudentsTotal  int               `json:"students_total"`
	Lock           command.LockState `json:"lock"`
}

// Handlers

func (api *classroomApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, statusResponse{
		Connected:      api.session.Connected(),
		State:          api.session.State(),
		StudentsOnline: api.session.OnlineCount(),
		StudentsTotal:  len(api.session.Students()),
		Lock:           api.session.Commands().LockState(),
	})
}

// queryStudents lists the roster ordered by username unless ?ordering says otherwise;
// ?status=online|offline filters it.
func (api *classroomApi) queryStudents(ctx echo.Context) error {
	var ord Ordering
	ord.Bind(ctx)

	status := ctx.QueryParam("status")
	students := make([]classroom.Student, 0)
	for _, st := range api.session.StudentList() {
		if status == "" || st.Status == status {
			students = append(students, st)
		}
	}
	if err := sortStudents(students, ord); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, students)
}

var studentOrderFields = map[string]func(a, b classroom.Student) int{
	"id":       func(a, b classroom.Student) int { return strings.Compare(a.ID, b.ID) },
	"username": func(a, b classroom.Student) int { return strings.Compare(a.Username, b.Username) },
	"status":   func(a, b classroom.Student) int { return strings.Compare(a.Status, b.Status) },
}

func sortStudents(students []classroom.Student, ord Ordering) error {
	if len(ord.Orderings) == 0 {
		return nil
	}
	for _, o := range ord.Orderings {
		if _, ok := studentOrderFields[o.Field]; !ok {
			return core.NewValidationError(nil, core.FieldError{Field: orderingParam, Error: "unknown field " + o.Field})
		}
	}
	sort.SliceStable(students, func(i, j int) bool {
		for _, o := range ord.Orderings {
			c := studentOrderFields[o.Field](students[i], students[j])
			if c == 0 {
				continue
			}
			if o.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return nil
}

func (api *classroomApi) retrieveStudent(ctx echo.Context) error {
	st, ok := api.session.Student(ctx.Param("id"))
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *classroomApi) queryScreens(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.session.Screens())
}

func (api *classroomApi) retrieveScreen(ctx echo.Context) error {
	sample, ok := api.session.Screen(ctx.Param("id"))
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, sample)
}

func (api *classroomApi) pollResults(ctx echo.Context) error {
	results := api.session.PollResults()
	if results == nil {
		results = []classroom.PollTally{}
	}
	return ctx.JSON(http.StatusOK, results)
}
