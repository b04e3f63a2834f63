// Command results-listener is the single process spec.md §4.7 describes:
// it consumes each terminal stage's output queue, tags every record with
// that stage's result tag_id, and republishes it to the per-client_id
// fanout exchange a server session subscribes to (server.ResultsExchange).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"flights-pipeline/broker"
	"flights-pipeline/codec"
	"flights-pipeline/config"
	"flights-pipeline/healthcheck"
	"flights-pipeline/logging"
	"flights-pipeline/message"
	"flights-pipeline/server"
)

// resultSource names one terminal stage's output queue and the tag_id its
// records should be stamped with (spec.md §4.7: "RESULT_EOF(tag_id,
// messages_sent) tells the client how many distinct results to expect for
// that tag").
type resultSource struct {
	queue string
	tag   byte
}

func parseSources(spec string) ([]resultSource, error) {
	var sources []resultSource
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("results-listener: malformed source %q, want queue:tag", part)
		}
		tag, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("results-listener: bad tag in %q: %w", part, err)
		}
		sources = append(sources, resultSource{queue: fields[0], tag: byte(tag)})
	}
	return sources, nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars take precedence)")
	flag.Parse()

	cfg, err := config.Load(*configPath, "result_sources", "health_addr")
	if err != nil {
		fmt.Fprintf(os.Stderr, "results-listener: config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, "results-listener", logging.ParseLevel(cfg.LoggingLevel))

	sourceSpec := cfg.Extra["result_sources"]
	if sourceSpec == "" {
		sourceSpec = "dos_mas_rapidos.1:0,max_avg.1:1"
	}
	sources, err := parseSources(sourceSpec)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	b, err := broker.Dial(cfg.RabbitHost)
	if err != nil {
		logger.Errorf("broker: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	c := codec.GetCodec(codec.CodecTypeBinary)

	healthAddr := cfg.Extra["health_addr"]
	if healthAddr == "" {
		healthAddr = ":9101"
	}
	hc := healthcheck.New(healthAddr, nil, healthcheck.NewMetrics("results_listener"))
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

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src resultSource) {
			defer wg.Done()
			if err := relay(ctx, b, c, src, logger); err != nil {
				logger.Errorf("relay %s: %v", src.queue, err)
			}
		}(src)
	}
	wg.Wait()
}

// relay drains one terminal stage's output queue, tags each record with
// src.tag, and republishes it to the owning client's results exchange.
func relay(ctx context.Context, b broker.Broker, c codec.Codec, src resultSource, logger *logging.Logger) error {
	deliveries, err := b.ConsumeQueue(ctx, src.queue)
	if err != nil {
		return err
	}
	for d := range deliveries {
		out, clientID, err := tag(c, d.Body, src.tag)
		if err != nil {
			logger.Errorf("decode %s: %v", src.queue, err)
			d.Nack(false)
			continue
		}
		body, err := c.Encode(out)
		if err != nil {
			logger.Errorf("encode %s: %v", src.queue, err)
			d.Nack(false)
			continue
		}
		if err := b.PublishToExchange(ctx, server.ResultsExchange(clientID), body); err != nil {
			logger.Errorf("publish %s: %v", src.queue, err)
			d.Nack(true)
			continue
		}
		d.Ack()
	}
	return nil
}

func tag(c codec.Codec, body []byte, tagID byte) (message.Internal, uint64, error) {
	in, err := c.Decode(body)
	if err != nil {
		return nil, 0, err
	}
	switch v := in.(type) {
	case *message.ProtocolMessage:
		return &message.ProtocolResult{ClientIDv: v.ClientIDv, TagID: tagID, MessageID: v.MessageID, Payload: v.Payload}, v.ClientIDv, nil
	case *message.EOFFinish:
		return &message.EOFResult{ClientIDv: v.ClientIDv, TagID: tagID, MessagesSent: v.MessagesSent}, v.ClientIDv, nil
	default:
		return nil, 0, fmt.Errorf("results-listener: unexpected internal type %T on a terminal queue", v)
	}
}
