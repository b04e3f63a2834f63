// Command server runs the flights-pipeline TCP front door (spec.md
// §4.3): it accepts client connections, shards PROTOCOL/EOF frames onto
// stage input queues, and fans results back out per client_id.
//
// Grounded on nishisan-dev-n-backup/cmd/nbackup-server's main shape:
// load config, build a logger, wire a signal-cancelled context, run to
// completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"flights-pipeline/broker"
	"flights-pipeline/config"
	"flights-pipeline/healthcheck"
	"flights-pipeline/loadbalance"
	"flights-pipeline/logging"
	"flights-pipeline/middleware"
	"flights-pipeline/server"
)

// parseStageTargets parses a comma-separated "name:replicas" list (e.g.
// "dos_mas_rapidos:2,joiner:1") into the StageTarget slice that names every
// ingress stage one protocol_type's records fan out to (spec.md §4.3: a
// dataset may feed more than one independent first-hop stage). A bare name
// with no ":replicas" defaults to one replica.
func parseStageTargets(spec string) ([]server.StageTarget, error) {
	var targets []server.StageTarget
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, replicasStr, hasReplicas := strings.Cut(part, ":")
		replicas := 1
		if hasReplicas {
			n, err := strconv.Atoi(replicasStr)
			if err != nil {
				return nil, fmt.Errorf("bad replica count in %q: %w", part, err)
			}
			replicas = n
		}
		targets = append(targets, server.StageTarget{Name: name, ReplicasCount: replicas})
	}
	return targets, nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars take precedence)")
	flag.Parse()

	extraKeys := []string{
		"addr", "health_addr", "max_clients", "expected_tags",
		"flight_stages", "airport_stages",
		"rate_limit_per_sec", "rate_limit_burst",
	}
	cfg, err := config.Load(*configPath, extraKeys...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, "server", logging.ParseLevel(cfg.LoggingLevel))

	addr := cfg.Extra["addr"]
	if addr == "" {
		addr = ":9000"
	}
	maxClients, err := cfg.ExtraInt("max_clients", 32)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	expectedTags, err := cfg.ExtraInt("expected_tags", 2)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	flightStagesSpec := cfg.Extra["flight_stages"]
	if flightStagesSpec == "" {
		// Raw flight records fan out to three independent first-hop
		// consumers of the same stream (spec.md §4.3, §9 processors
		// notes): the join pipeline (airport-coordinate enrichment),
		// the two-fastest-route stage (needs travelDuration
		// directly), and the fare load-balancer (needs totalFare
		// directly, ahead of the grouper/max-avg fare pipeline).
		flightStagesSpec = "joiner:1,dos_mas_rapidos:1,load_balancer:1"
	}
	flightStages, err := parseStageTargets(flightStagesSpec)
	if err != nil {
		logger.Errorf("config: flight_stages: %v", err)
		os.Exit(1)
	}
	airportStagesSpec := cfg.Extra["airport_stages"]
	if airportStagesSpec == "" {
		airportStagesSpec = "lat_long:1"
	}
	airportStages, err := parseStageTargets(airportStagesSpec)
	if err != nil {
		logger.Errorf("config: airport_stages: %v", err)
		os.Exit(1)
	}
	rateLimitPerSec := 50.0
	if s := cfg.Extra["rate_limit_per_sec"]; s != "" {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			logger.Errorf("config: rate_limit_per_sec: %v", err)
			os.Exit(1)
		}
		rateLimitPerSec = n
	}
	rateLimitBurst, err := cfg.ExtraInt("rate_limit_burst", 100)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	b, err := broker.Dial(cfg.RabbitHost)
	if err != nil {
		logger.Errorf("broker: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	svr := server.NewServer(server.Config{
		MaxClients:      maxClients,
		FlightStages:    flightStages,
		AirportStages:   airportStages,
		ExpectedTags:    expectedTags,
		ShutdownTimeout: 10 * time.Second,
	}, b, loadbalance.NewConsistentHashBalancer(), logger.Std(logging.LevelInfo))

	// Bound how fast PROTOCOL/EOF frames are forwarded to the broker per
	// server process (spec.md §5's resource bounds), ahead of the
	// businessHandler's forward step.
	svr.Use(middleware.RateLimitMiddleware(rateLimitPerSec, rateLimitBurst))

	healthAddr := cfg.Extra["health_addr"]
	if healthAddr == "" {
		healthAddr = ":9100"
	}
	hc := healthcheck.New(healthAddr, nil, healthcheck.NewMetrics("server"))
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
		sig := <-sigCh
		logger.Infof("received signal %v, shutting down", sig)
		svr.Shutdown(10 * time.Second)
		cancel()
	}()

	if err := svr.Serve("tcp", addr); err != nil {
		logger.Errorf("serve: %v", err)
		os.Exit(1)
	}
}
