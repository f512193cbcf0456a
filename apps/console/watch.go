package main

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli"

	"github.com/trezcool/classguard/core/classroom"
)

// watchState is what has been printed so far.
type watchState struct {
	state    classroom.State
	students map[string]classroom.Student
	apps     map[string]string
	polls    map[string]int
}

func (cl *commandLine) watch(c *cli.Context) error {
	ctx, stop := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("for"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	sess, err := cl.openSession(c)
	if err != nil {
		return err
	}
	defer cl.closeSession(sess)

	seen := &watchState{
		students: make(map[string]classroom.Student),
		apps:     make(map[string]string),
		polls:    make(map[string]int),
	}
	for {
		updates := sess.Updates()
		cl.printChanges(sess, seen)
		if seen.state == classroom.StateFailed {
			return classroom.ErrReconnectFailed
		}

		select {
		case <-updates:
		case <-ctx.Done():
			cl.printf(titleColor, "%d/%d students online", sess.OnlineCount(), len(sess.Students()))
			return nil
		}
	}
}

func (cl *commandLine) printChanges(sess *classroom.Session, seen *watchState) {
	if st := sess.State(); st != seen.state {
		seen.state = st
		switch st {
		case classroom.StateConnected:
			cl.printf(okColor, "[relay] connected")
		case classroom.StateFailed:
			cl.printf(errColor, "[relay] gave up reconnecting")
		default:
			cl.printf(warnColor, "[relay] %s", st)
		}
	}

	for _, s := range sess.StudentList() {
		prev, ok := seen.students[s.ID]
		if ok && prev == s {
			continue
		}
		seen.students[s.ID] = s
		if s.IsOnline() {
			cl.printf(okColor, "+ %s (%s) online", s.Username, s.ID)
		} else {
			cl.printf(warnColor, "- %s (%s) offline", s.Username, s.ID)
		}
	}

	screens := sess.Screens()
	ids := make([]string, 0, len(screens))
	for id := range screens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		app := screens[id].ActiveApp
		if app == "" || seen.apps[id] == app {
			continue
		}
		seen.apps[id] = app
		name := id
		if s, ok := seen.students[id]; ok {
			name = s.Username
		}
		cl.printf(infoColor, "  %s is on %s", name, app)
	}

	for _, tally := range sess.PollResults() {
		if seen.polls[tally.PollID] == tally.Total {
			continue
		}
		seen.polls[tally.PollID] = tally.Total
		answers := make([]string, 0, len(tally.Answers))
		for a, n := range tally.Answers {
			answers = append(answers, a+"="+strconv.Itoa(n))
		}
		sort.Strings(answers)
		cl.printf(titleColor, "  poll %s: %s (%d answers)", tally.PollID, strings.Join(answers, ", "), tally.Total)
	}
}
