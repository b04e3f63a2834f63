// Command client streams a flights CSV and an airports CSV to the
// flights-pipeline server (spec.md §4.2) and prints every analytical
// result it receives back.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"flights-pipeline/client"
	"flights-pipeline/config"
	"flights-pipeline/logging"
	"flights-pipeline/message"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars take precedence)")
	flag.Parse()

	cfg, err := config.Load(*configPath, "addr", "client_id", "flights_csv", "airports_csv", "expected_tags")
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, "client", logging.ParseLevel(cfg.LoggingLevel))

	addr := cfg.Extra["addr"]
	if addr == "" {
		addr = "127.0.0.1:9000"
	}
	clientID, err := cfg.ExtraInt("client_id", 1)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	expectedTags, err := cfg.ExtraInt("expected_tags", 2)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	c := client.New(client.Config{
		Addr:         addr,
		ClientID:     uint64(clientID),
		ExpectedTags: expectedTags,
	}, logger.Std(logging.LevelInfo))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	outbound := make(chan client.Outbound, 64)
	results := make(chan client.Result, 64)

	go feed(outbound, cfg.Extra["flights_csv"], message.ProtocolFlight, logger)
	go feed(outbound, cfg.Extra["airports_csv"], message.ProtocolAirport, logger)

	go func() {
		for r := range results {
			fmt.Printf("tag=%d id=%d %s\n", r.TagID, r.MessageID, r.Result)
		}
	}()

	if err := c.Run(ctx, outbound, results); err != nil {
		logger.Errorf("run: %v", err)
		os.Exit(1)
	}
}

// feed streams one CSV file's data rows (header skipped) onto outbound as
// raw comma-joined payloads, then signals EOFRecord for pt.
func feed(outbound chan<- client.Outbound, path string, pt message.ProtocolType, logger *logging.Logger) {
	if path == "" {
		outbound <- client.Outbound{Kind: client.EOFRecord, ProtocolType: pt}
		return
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Errorf("open %s: %v", path, err)
		outbound <- client.Outbound{Kind: client.EOFRecord, ProtocolType: pt}
		return
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	if _, err := r.Read(); err != nil && err != io.EOF {
		logger.Errorf("read header %s: %v", path, err)
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Errorf("read %s: %v", path, err)
			break
		}
		outbound <- client.Outbound{Kind: client.SendRecord, ProtocolType: pt, Payload: strings.Join(row, ",")}
	}
	outbound <- client.Outbound{Kind: client.EOFRecord, ProtocolType: pt}
}
