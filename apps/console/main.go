package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/trezcool/classguard/apps"
	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/services/logger"
)

func main() {
	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// keep the terminal for command output unless debugging
	stdLogger := logsvc.NewLogrus(conf)
	if !conf.Debug {
		stdLogger.SetLevel(logrus.WarnLevel)
	}
	logger := logsvc.NewRollbarLogger(stdLogger, conf)

	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))

	cli := commandLine{
		conf: conf,
		log:  logger,
		out:  os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		_, _ = errColor.Fprintf(os.Stderr, "\nerror: %s\n", err)
		if apps.IsArgumentError(err) {
			_, _ = fmt.Fprintln(os.Stderr, "run with --help for usage")
		}
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}
