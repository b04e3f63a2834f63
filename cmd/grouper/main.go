// Command grouper runs one replica of the fare-grouping stage
// (processors.Grouper): it accumulates every totalFare seen per route and
// emits one aggregated record per route once the EOF ring converges.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flights-pipeline/broker"
	"flights-pipeline/config"
	"flights-pipeline/healthcheck"
	"flights-pipeline/logging"
	"flights-pipeline/processors"
	"flights-pipeline/stage"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars take precedence)")
	flag.Parse()

	cfg, err := config.Load(*configPath, "wal_path", "health_addr")
	if err != nil {
		fmt.Fprintf(os.Stderr, "grouper: config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, "grouper", logging.ParseLevel(cfg.LoggingLevel))

	b, err := broker.Dial(cfg.RabbitHost)
	if err != nil {
		logger.Errorf("broker: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	walPath := cfg.Extra["wal_path"]
	if walPath == "" {
		walPath = fmt.Sprintf("grouper.%d.wal", cfg.ReplicaID)
	}

	healthAddr := cfg.Extra["health_addr"]
	if healthAddr == "" {
		healthAddr = ":9103"
	}
	hc := healthcheck.New(healthAddr, nil, healthcheck.NewMetrics("grouper"))
	go func() {
		if err := hc.ListenAndServe(); err != nil {
			logger.Errorf("healthcheck: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	stageCfg := stage.Config{
		StageName:     "grouper",
		ReplicaID:     cfg.ReplicaID,
		ReplicasCount: cfg.ReplicasCount,
		InputQueue:    stage.QueueName("grouper", int(cfg.ReplicaID)),
		OutputQueues:  []string{cfg.Output},
		InputFields:   []string{"startingAirport", "destinationAirport", "totalFare"},
		OutputFields:  []string{"route", "prices"},
	}

	err = stage.RunReplica(ctx, stage.RunReplicaConfig{
		Config:  stageCfg,
		WALPath: walPath,
		Broker:  b,
		Factory: processors.NewGrouper,
		Logger:  logger.Std(logging.LevelInfo),
	})
	if err != nil {
		logger.Errorf("run: %v", err)
		os.Exit(1)
	}
}
