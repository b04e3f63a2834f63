// Command joiner runs the airport-coordinate join pipeline (spec.md §9's
// redesign of original_source/processors/joiner/main.py's two-thread
// shape): one LatLong loop ingests the (small, finite) airports dataset
// into a shared lookup table, and one Joiner loop enriches flight
// records from that table, both sharing one processors.JoinStates
// registry. Grounded on the original's two threads sharing one `State`
// instance; here two goroutines share one *JoinStates instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
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

	cfg, err := config.Load(*configPath, "wal_path", "health_addr", "lat_long_input")
	if err != nil {
		fmt.Fprintf(os.Stderr, "joiner: config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, "joiner", logging.ParseLevel(cfg.LoggingLevel))

	b, err := broker.Dial(cfg.RabbitHost)
	if err != nil {
		logger.Errorf("broker: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	walPath := cfg.Extra["wal_path"]
	if walPath == "" {
		walPath = fmt.Sprintf("joiner.%d.wal", cfg.ReplicaID)
	}

	healthAddr := cfg.Extra["health_addr"]
	if healthAddr == "" {
		healthAddr = ":9106"
	}
	hc := healthcheck.New(healthAddr, nil, healthcheck.NewMetrics("joiner"))
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

	states := processors.NewJoinStates()

	// Because lat_long and joiner exchange state through the same
	// process rather than sharing the other groupers' replica scheme,
	// the lat_long side always runs as a single logical replica
	// (original_source's JOINER_REPLICA_COUNT == 1 comment).
	latLongQueue := cfg.Extra["lat_long_input"]
	if latLongQueue == "" {
		latLongQueue = stage.QueueName("lat_long", 1)
	}
	latLongCfg := stage.Config{
		StageName:     "lat_long",
		ReplicaID:     1,
		ReplicasCount: 1,
		InputQueue:    latLongQueue,
		InputFields:   []string{"AirportCode", "Latitude", "Longitude"},
	}
	joinerCfg := stage.Config{
		StageName:     "joiner",
		ReplicaID:     cfg.ReplicaID,
		ReplicasCount: cfg.ReplicasCount,
		InputQueue:    stage.QueueName("joiner", int(cfg.ReplicaID)),
		OutputQueues:  []string{cfg.Output},
		InputFields:   []string{"legId", "startingAirport", "destinationAirport", "totalTravelDistance"},
		OutputFields: []string{
			"legId", "startingAirport", "destinationAirport", "totalTravelDistance",
			"startingLatitude", "startingLongitude", "destinationLatitude", "destinationLongitude",
		},
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := stage.RunReplica(ctx, stage.RunReplicaConfig{
			Config:  latLongCfg,
			WALPath: walPath + ".lat_long",
			Broker:  b,
			Factory: states.LatLongFactory(),
			Logger:  logger.Std(logging.LevelInfo),
		})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		err := stage.RunReplica(ctx, stage.RunReplicaConfig{
			Config:  joinerCfg,
			WALPath: walPath + ".joiner",
			Broker:  b,
			Factory: states.JoinerFactory(),
			Logger:  logger.Std(logging.LevelInfo),
		})
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			logger.Errorf("run: %v", err)
			os.Exit(1)
		}
	}
}
