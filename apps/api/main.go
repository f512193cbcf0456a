package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/classguard/apps/api/echo"
	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/analysis"
	"github.com/trezcool/classguard/core/classroom"
	"github.com/trezcool/classguard/services/inference"
	"github.com/trezcool/classguard/services/logger"
	"github.com/trezcool/classguard/services/metrics"
	"github.com/trezcool/classguard/services/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// =========================================================================
	// Set up Dependencies

	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := logsvc.NewRollbarLogger(logsvc.NewLogrus(conf), conf)
	defer logger.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	metrics, err := metricsvc.NewPrometheus(reg)
	if err != nil {
		logger.Fatal("setting up metrics", err)
	}

	transport, err := relay.NewClient(relay.Options{
		URL:               conf.Relay.URL,
		ReconnectAttempts: conf.Relay.ReconnectAttempts,
		ReconnectDelay:    conf.Relay.ReconnectDelay,
		DialTimeout:       conf.Relay.DialTimeout,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		logger.Fatal("setting up relay client", err)
	}

	session := classroom.NewSession(transport, classroom.Options{
		TeacherName: conf.TeacherName,
		Logger:      logger,
		Metrics:     metrics,
	})

	analysisSvc := analysis.NewService(
		inference.NewClient(conf.Inference.URL, nil, logger),
		analysis.Options{
			InsightTimeout:    conf.Inference.InsightTimeout,
			CodeReviewTimeout: conf.Inference.CodeReviewTimeout,
			SuggestTimeout:    conf.Inference.SuggestTimeout,
			Logger:            logger,
			Metrics:           metrics,
		},
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build), map[string]interface{}{
		"env":       conf.Env,
		"relay":     conf.Relay.URL,
		"inference": conf.Inference.URL,
	})
	defer logger.Info("Application stopped")

	if err = session.Start(context.Background()); err != nil {
		logger.Fatal("starting classroom session", err)
	}
	defer func() {
		if err := session.Stop(); err != nil {
			logger.Error("stopping classroom session", err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Address:  conf.Server.Addr,
		AppName:  conf.AppName,
		Debug:    conf.Debug,
		TestMode: conf.TestMode,
		Logger:   logger,
		Gatherer: reg,
		Session:  session,
		Analysis: analysisSvc,
		SignalShutdown: func() {
			select {
			case shutdown <- syscall.SIGTERM:
			default:
			}
		},
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API listening", map[string]interface{}{"addr": conf.Server.Addr})
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-serverErrors:
		if err != nil {
			logger.Error("server error", err)
		}

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err = server.Stop(ctx); err != nil {
			logger.Error("could not stop server gracefully", err)
		}
	}
}
