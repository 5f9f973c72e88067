package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"conversation-automation/pkg/cli"
	"conversation-automation/pkg/config"
	"conversation-automation/pkg/metrics"
	"conversation-automation/pkg/service"
	"conversation-automation/pkg/transport/lambdatransport"
)

func main() {
	cfg := config.Load()
	// only /tmp is writable inside the runtime
	if cfg.EventStorePath == "events.db" {
		cfg.EventStorePath = "/tmp/events.db"
	}

	logger := cli.NewLogger(cfg.LogLevel)
	logger.WithField("pod_id", cfg.PodID).Info("Starting lambda event handler")

	svc, err := service.NewService(cfg, logger, metrics.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		logger.WithError(err).Fatal("Failed to build service")
	}

	h := lambdatransport.NewHandler(svc.Pipeline(), logger)
	lambda.Start(h.LogEvent)
}
