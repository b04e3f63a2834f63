// Command max-avg runs one replica of the max/average-fare stage
// (processors.MaxAvg): stateless, one route-prices record in, one
// avg/max record out, propagating its own EOF immediately per record
// rather than waiting on the ring (spec.md §9 redesign note).
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
		fmt.Fprintf(os.Stderr, "max-avg: config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, "max-avg", logging.ParseLevel(cfg.LoggingLevel))

	b, err := broker.Dial(cfg.RabbitHost)
	if err != nil {
		logger.Errorf("broker: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	walPath := cfg.Extra["wal_path"]
	if walPath == "" {
		walPath = fmt.Sprintf("max_avg.%d.wal", cfg.ReplicaID)
	}

	healthAddr := cfg.Extra["health_addr"]
	if healthAddr == "" {
		healthAddr = ":9104"
	}
	hc := healthcheck.New(healthAddr, nil, healthcheck.NewMetrics("max_avg"))
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
		StageName:     "max_avg",
		ReplicaID:     cfg.ReplicaID,
		ReplicasCount: cfg.ReplicasCount,
		InputQueue:    stage.QueueName("max_avg", int(cfg.ReplicaID)),
		OutputQueues:  []string{cfg.Output},
		InputFields:   []string{"route", "prices"},
		OutputFields:  []string{"route", "avg", "max_price"},
	}

	err = stage.RunReplica(ctx, stage.RunReplicaConfig{
		Config:  stageCfg,
		WALPath: walPath,
		Broker:  b,
		Factory: processors.NewMaxAvg,
		Logger:  logger.Std(logging.LevelInfo),
	})
	if err != nil {
		logger.Errorf("run: %v", err)
		os.Exit(1)
	}
}
