package main

import (
	"context"
	"io"
	"net/http"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/analysis"
	"github.com/trezcool/classguard/core/classroom"
	"github.com/trezcool/classguard/services/inference"
	"github.com/trezcool/classguard/services/relay"
)

var (
	notifyContext = signal.NotifyContext // mockable

	errNoScreenshots = errors.New("no student screenshots to review")
)

const defaultWait = 10 * time.Second

type commandLine struct {
	conf *core.Config
	log  core.Logger
	out  io.Writer
	http *http.Client
}

func (cl *commandLine) app() *cli.App {
	app := cli.NewApp()
	app.Name = "classguard"
	app.Usage = "Command-line teacher console for a ClassGuard classroom"
	app.Version = cl.conf.Build
	app.Writer = cl.out

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "relay", Value: cl.conf.Relay.URL, Usage: "relay server base URL"},
		cli.StringFlag{Name: "api", Value: cl.conf.Inference.URL, Usage: "inference service base URL"},
		cli.StringFlag{Name: "teacher", Value: cl.conf.TeacherName, Usage: "name to register as"},
		cli.DurationFlag{Name: "wait", Value: defaultWait, Usage: "how long to wait for the relay connection"},
	}

	app.Commands = []cli.Command{
		{
			Name:   "watch",
			Usage:  "stream roster, screen and poll changes",
			Flags:  []cli.Flag{cli.DurationFlag{Name: "for", Usage: "stop after this long (default: until interrupted)"}},
			Action: cl.watch,
		},
		{
			Name:      "lock",
			Usage:     "lock student screens",
			ArgsUsage: "[STUDENT_ID...]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "duration, d", Value: "manual", Usage: `seconds, a duration ("5m") or "manual"`},
				cli.StringFlag{Name: "message, m", Usage: "message shown on the lock screen"},
			},
			Action: cl.lock,
		},
		{
			Name:      "unlock",
			Usage:     "unlock student screens",
			ArgsUsage: "[STUDENT_ID...]",
			Action:    cl.unlock,
		},
		{
			Name:      "message",
			Usage:     "send a message to every student or to one of them",
			ArgsUsage: "TEXT",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "to", Value: "all", Usage: `student id or "all"`},
				cli.StringFlag{Name: "type, t", Value: "normal", Usage: "normal, warning or urgent"},
			},
			Action: cl.message,
		},
		{
			Name:      "poll",
			Usage:     "ask every student a question",
			ArgsUsage: "QUESTION",
			Flags:     []cli.Flag{cli.StringSliceFlag{Name: "option, o", Usage: "an answer option (repeat, at least 2)"}},
			Action:    cl.poll,
		},
		{
			Name:   "insights",
			Usage:  "analyse classroom engagement",
			Flags:  []cli.Flag{settleFlag},
			Action: cl.insights,
		},
		{
			Name:  "review",
			Usage: "review the code on every student screen",
			Flags: []cli.Flag{
				settleFlag,
				cli.StringFlag{Name: "language, l", Value: analysis.DefaultLanguage},
			},
			Action: cl.review,
		},
		{
			Name:      "suggest",
			Usage:     "suggest a message for one student",
			ArgsUsage: "NAME",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "activity"},
				cli.IntFlag{Name: "distraction", Usage: "minutes off task"},
				cli.IntFlag{Name: "progress", Usage: "percentage"},
				cli.StringSliceFlag{Name: "issue"},
			},
			Action: cl.suggest,
		},
	}
	return app
}

var settleFlag = cli.DurationFlag{Name: "settle", Value: 2 * time.Second, Usage: "how long to collect roster and screens before asking"}

func (cl *commandLine) run(args []string) error {
	return cl.app().Run(args)
}

// openSession connects to the relay and waits until the teacher is registered.
func (cl *commandLine) openSession(c *cli.Context) (*classroom.Session, error) {
	transport, err := relay.NewClient(relay.Options{
		URL:               c.GlobalString("relay"),
		ReconnectAttempts: cl.conf.Relay.ReconnectAttempts,
		ReconnectDelay:    cl.conf.Relay.ReconnectDelay,
		DialTimeout:       cl.conf.Relay.DialTimeout,
		Logger:            cl.log,
		HTTPClient:        cl.http,
	})
	if err != nil {
		return nil, errors.Wrap(err, "setting up relay client")
	}

	sess := classroom.NewSession(transport, classroom.Options{
		TeacherName: c.GlobalString("teacher"),
		Logger:      cl.log,
	})
	if err = sess.Start(context.Background()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("wait"))
	defer cancel()
	if err = sess.WaitConnected(ctx); err != nil {
		_ = sess.Stop()
		return nil, err
	}
	return sess, nil
}

func (cl *commandLine) closeSession(sess *classroom.Session) {
	if err := sess.Stop(); err != nil {
		cl.log.Warn("stopping session", err)
	}
}

func (cl *commandLine) analysisService(c *cli.Context) *analysis.Service {
	return analysis.NewService(
		inference.NewClient(c.GlobalString("api"), cl.http, cl.log),
		analysis.Options{
			InsightTimeout:    cl.conf.Inference.InsightTimeout,
			CodeReviewTimeout: cl.conf.Inference.CodeReviewTimeout,
			SuggestTimeout:    cl.conf.Inference.SuggestTimeout,
			Logger:            cl.log,
		},
	)
}

// Output helpers

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
	infoColor  = color.New(color.FgCyan)
	titleColor = color.New(color.Bold)
)

func (cl *commandLine) printf(c *color.Color, format string, args ...interface{}) {
	_, _ = c.Fprintf(cl.out, format+"\n", args...)
}
