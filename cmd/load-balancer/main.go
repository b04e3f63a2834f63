// Command load-balancer runs one replica of the fare load-balancing
// stage (processors.LoadBalancer): it hashes each flight's route onto
// one of the grouper's replicas and forwards the record there directly,
// instead of broadcasting to every grouper replica.
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

	cfg, err := config.Load(*configPath, "wal_path", "health_addr", "target_stage", "target_replicas")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load-balancer: config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, "load-balancer", logging.ParseLevel(cfg.LoggingLevel))

	b, err := broker.Dial(cfg.RabbitHost)
	if err != nil {
		logger.Errorf("broker: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	targetStage := cfg.Extra["target_stage"]
	if targetStage == "" {
		targetStage = "grouper"
	}
	targetReplicas, err := cfg.ExtraInt("target_replicas", 1)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	walPath := cfg.Extra["wal_path"]
	if walPath == "" {
		walPath = fmt.Sprintf("load_balancer.%d.wal", cfg.ReplicaID)
	}

	healthAddr := cfg.Extra["health_addr"]
	if healthAddr == "" {
		healthAddr = ":9105"
	}
	hc := healthcheck.New(healthAddr, nil, healthcheck.NewMetrics("load_balancer"))
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

	// OutputQueues is unused for the per-record target: LoadBalancer
	// implements stage.Router and picks one grouper replica's queue
	// directly for every record it sees.
	stageCfg := stage.Config{
		StageName:     "load_balancer",
		ReplicaID:     cfg.ReplicaID,
		ReplicasCount: cfg.ReplicasCount,
		InputQueue:    stage.QueueName("load_balancer", int(cfg.ReplicaID)),
		OutputQueues:  []string{stage.QueueName(targetStage, 1)},
		InputFields:   []string{"startingAirport", "destinationAirport", "totalFare"},
		OutputFields:  []string{"startingAirport", "destinationAirport", "totalFare"},
	}

	err = stage.RunReplica(ctx, stage.RunReplicaConfig{
		Config:  stageCfg,
		WALPath: walPath,
		Broker:  b,
		Factory: processors.NewLoadBalancerFactory(targetStage, targetReplicas),
		Logger:  logger.Std(logging.LevelInfo),
	})
	if err != nil {
		logger.Errorf("run: %v", err)
		os.Exit(1)
	}
}
