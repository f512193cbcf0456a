package main

import (
	"context"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/trezcool/classguard/apps"
	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/analysis"
	"github.com/trezcool/classguard/core/classroom"
)

// settle gives the relay time to send the roster and the latest screens.
func settle(sess *classroom.Session, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-sess.Updates():
		case <-timer.C:
			return
		}
	}
}

func (cl *commandLine) insights(c *cli.Context) error {
	sess, err := cl.openSession(c)
	if err != nil {
		return err
	}
	defer cl.closeSession(sess)
	settle(sess, c.Duration("settle"))

	summaries := analysis.SummarizeClassroom(sess.Students(), sess.Screens())
	insight, err := cl.analysisService(c).ClassroomInsight(context.Background(), summaries)
	if err != nil {
		return err
	}

	statusColor := okColor
	switch insight.Status {
	case "warning":
		statusColor = warnColor
	case "critical":
		statusColor = errColor
	}
	cl.printf(titleColor, "Classroom insights (%d students)", len(summaries))
	cl.printf(statusColor, "Engagement: %.0f%% (%s)", insight.EngagementPercentage, insight.Status)
	if insight.ClassMood != "" {
		cl.printf(infoColor, "Mood: %s", insight.ClassMood)
	}
	for _, a := range insight.AttentionNeeded {
		cl.printf(warnColor, "  ! %s: %s", a.Name, a.Reason)
	}
	for _, m := range insight.PositiveMoments {
		cl.printf(okColor, "  + %s", m)
	}
	if insight.Recommendation != "" {
		cl.printf(infoColor, "Recommendation: %s", insight.Recommendation)
	}
	return nil
}

func (cl *commandLine) review(c *cli.Context) error {
	sess, err := cl.openSession(c)
	if err != nil {
		return err
	}
	defer cl.closeSession(sess)
	settle(sess, c.Duration("settle"))

	subs := analysis.CodeSubmissions(sess.Students(), sess.Screens())
	if len(subs) == 0 {
		return errNoScreenshots
	}
	review, err := cl.analysisService(c).CodeReview(context.Background(), subs, c.String("language"))
	if err != nil {
		return err
	}

	cl.printf(titleColor, "Code review (%d of %d screens)", review.Total(), len(subs))
	if len(review.Correct) > 0 {
		cl.printf(okColor, "Correct: %s", strings.Join(review.Correct, ", "))
	}
	for _, si := range review.HasIssues {
		cl.printf(warnColor, "Issues: %s", si.Name)
		cl.printIssues(si.Issues)
	}
	for _, si := range review.Errors {
		cl.printf(errColor, "Errors: %s", si.Name)
		cl.printIssues(si.Issues)
	}
	if len(review.NoCode) > 0 {
		cl.printf(infoColor, "No code: %s", strings.Join(review.NoCode, ", "))
	}
	if len(review.OffTask) > 0 {
		cl.printf(warnColor, "Off task: %s", strings.Join(review.OffTask, ", "))
	}
	return nil
}

func (cl *commandLine) printIssues(issues []analysis.Issue) {
	for _, is := range issues {
		if is.Line != nil {
			cl.printf(infoColor, "    [%s] line %d: %s", is.Type, *is.Line, is.Description)
		} else {
			cl.printf(infoColor, "    [%s] %s", is.Type, is.Description)
		}
	}
}

func (cl *commandLine) suggest(c *cli.Context) error {
	mc := analysis.MessageContext{
		Name:            core.CleanString(strings.Join(c.Args(), " ")),
		CurrentActivity: c.String("activity"),
		DistractionTime: c.Int("distraction"),
		Progress:        c.Int("progress"),
		Issues:          c.StringSlice("issue"),
	}
	if mc.Name == "" {
		return apps.NewArgumentError("a student name is required")
	}

	sugg, err := cl.analysisService(c).SuggestMessage(context.Background(), mc)
	if err != nil {
		return err
	}
	for _, v := range []struct{ label, text string }{
		{"encouraging", sugg.Encouraging},
		{"direct", sugg.Direct},
		{"helpful", sugg.Helpful},
	} {
		if v.text != "" {
			cl.printf(infoColor, "%s: %s", v.label, v.text)
		}
	}
	cl.printf(okColor, "%s", sugg.Text())
	return nil
}
