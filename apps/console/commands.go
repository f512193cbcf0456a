package main

import (
	"strings"

	"github.com/urfave/cli"

	"github.com/trezcool/classguard/apps"
	"github.com/trezcool/classguard/core/command"
)

func scopeFromArgs(args cli.Args) command.Scope {
	if len(args) == 0 || (len(args) == 1 && args[0] == "all") {
		return command.AllStudents()
	}
	return command.Students(args...)
}

func (cl *commandLine) lock(c *cli.Context) error {
	duration, err := command.ParseDuration(c.String("duration"))
	if err != nil {
		return err
	}
	scope := scopeFromArgs(c.Args())

	sess, err := cl.openSession(c)
	if err != nil {
		return err
	}
	defer cl.closeSession(sess)

	if err = sess.Commands().Lock(scope, duration, c.String("message")); err != nil {
		return err
	}
	cl.printf(okColor, "Locked %s (%s)", scope, duration)
	return nil
}

func (cl *commandLine) unlock(c *cli.Context) error {
	scope := scopeFromArgs(c.Args())

	sess, err := cl.openSession(c)
	if err != nil {
		return err
	}
	defer cl.closeSession(sess)

	if err = sess.Commands().Unlock(scope); err != nil {
		return err
	}
	cl.printf(okColor, "Unlocked %s", scope)
	return nil
}

func (cl *commandLine) message(c *cli.Context) error {
	text := strings.Join(c.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return apps.NewArgumentError("a message is required")
	}

	sess, err := cl.openSession(c)
	if err != nil {
		return err
	}
	defer cl.closeSession(sess)

	if err = sess.Commands().BroadcastMessage(c.String("to"), text, c.String("type")); err != nil {
		return err
	}
	cl.printf(okColor, "Message sent to %s", c.String("to"))
	return nil
}

func (cl *commandLine) poll(c *cli.Context) error {
	question := strings.Join(c.Args(), " ")
	if strings.TrimSpace(question) == "" {
		return apps.NewArgumentError("a question is required")
	}

	sess, err := cl.openSession(c)
	if err != nil {
		return err
	}
	defer cl.closeSession(sess)

	if err = sess.Commands().CreatePoll(question, c.StringSlice("option")); err != nil {
		return err
	}
	cl.printf(okColor, "Poll created: %s", question)
	return nil
}
