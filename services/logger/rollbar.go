package logsvc

import (
	"fmt"
	"os"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/sirupsen/logrus"

	"github.com/trezcool/classguard/core"
)

// RollbarLogger reports to Rollbar (when a token is configured) and mirrors everything to logrus.
type RollbarLogger struct {
	log *logrus.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewLogrus builds the local logger: text on a terminal in debug mode, JSON otherwise.
func NewLogrus(conf *core.Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if conf.Debug {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func NewRollbarLogger(log *logrus.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetPerson(conf.TeacherName, conf.TeacherName, "")
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{log: log}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{} (fields), any printable value
func (l RollbarLogger) entry(msg string, args []interface{}) (*logrus.Entry, string) {
	e := logrus.NewEntry(l.log)
	var extra []string
	for _, arg := range args {
		switch a := arg.(type) {
		case error:
			e = e.WithError(a)
		case map[string]interface{}:
			e = e.WithFields(logrus.Fields(a))
		case nil:
		default:
			extra = append(extra, fmt.Sprintf("%+v", a))
		}
	}
	if len(extra) > 0 {
		msg += ": " + strings.Join(extra, ", ")
	}
	return e, msg
}

// rollbar only understands strings, errors and a map of extras.
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	extras := make(map[string]interface{})
	for _, arg := range args {
		switch a := arg.(type) {
		case error:
			newArgs = append(newArgs, a)
		case map[string]interface{}:
			for k, v := range a {
				extras[k] = v
			}
		case nil:
		default:
			extras[fmt.Sprintf("arg%d", len(extras))] = fmt.Sprintf("%+v", a)
		}
	}
	if len(extras) > 0 {
		newArgs = append(newArgs, extras)
	}
	return newArgs
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	if !l.log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	rollbar.Debug(l.prepare(msg, args)...)
	e, m := l.entry(msg, args)
	e.Debug(m)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	e, m := l.entry(msg, args)
	e.Info(m)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	e, m := l.entry(msg, args)
	e.Warn(m)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	e, m := l.entry(msg, args)
	e.Error(m)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	rollbar.Wait()
	e, m := l.entry(msg, args)
	e.Fatal(m)
}

// Close flushes pending Rollbar reports.
func (l RollbarLogger) Close() {
	rollbar.Close()
}
