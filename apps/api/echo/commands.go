package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/command"
)

type commandApi struct {
	session Classroom
}

func registerCommandAPI(g *echo.Group, session Classroom) {
	api := commandApi{session: session}

	g.GET("/lock", api.lockState)
	g.POST("/lock", api.lock)
	g.POST("/unlock", api.unlock)
	g.POST("/messages", api.sendMessage)
	g.POST("/polls", api.createPoll)
}

type (
	lockRequest struct {
		Students command.Scope     `json:"students"`
		Duration *command.Duration `json:"duration"`
		Message  string            `json:"message"`
	}

	unlockRequest struct {
		Students command.Scope `json:"students"`
	}

	messageRequest struct {
		Target  string `json:"target"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}

	pollRequest struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
)

// Handlers

func (api *commandApi) lockState(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.session.Commands().LockState())
}

func (api *commandApi) lock(ctx echo.Context) error {
	var data lockRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to lockRequest")
	}
	if data.Duration == nil {
		return core.NewValidationError(nil, core.FieldError{Field: "duration", Error: "duration is required"})
	}

	cmds := api.session.Commands()
	if err := cmds.Lock(data.Students, *data.Duration, data.Message); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cmds.LockState())
}

func (api *commandApi) unlock(ctx echo.Context) error {
	var data unlockRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to unlockRequest")
	}

	cmds := api.session.Commands()
	if err := cmds.Unlock(data.Students); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cmds.LockState())
}

func (api *commandApi) sendMessage(ctx echo.Context) error {
	var data messageRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to messageRequest")
	}
	if err := api.session.Commands().BroadcastMessage(data.Target, data.Message, data.Type); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusAccepted)
}

func (api *commandApi) createPoll(ctx echo.Context) error {
	var data pollRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to pollRequest")
	}
	if err := api.session.Commands().CreatePoll(data.Question, data.Options); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusAccepted)
}
