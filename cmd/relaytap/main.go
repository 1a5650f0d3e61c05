// Command relaytap publishes demo traffic to a relay or prints what a relay
// delivers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/edgerelay/internal/client"
	"github.com/danmuck/edgerelay/internal/logging"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/records"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	logging.ConfigureRuntime()
	logger := logging.Component("relaytap")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "sub":
		err = runSub(ctx, logger, os.Args[2:], os.Stdout)
	case "pub":
		err = runPub(ctx, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "relaytap: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: relaytap sub|pub [flags]")
}

func dialFlags(fs *flag.FlagSet) (*string, *string) {
	domain := fs.String("domain", "market_data", "relay domain")
	endpoint := fs.String("endpoint", "", "socket path (defaults to the domain's)")
	return domain, endpoint
}

func resolveEndpoint(domainName, endpoint string) (schema.RelayDomain, string, error) {
	domain, err := schema.ParseDomain(domainName)
	if err != nil {
		return 0, "", err
	}
	if endpoint == "" {
		endpoint = domain.DefaultEndpoint()
	}
	return domain, endpoint, nil
}

func runSub(ctx context.Context, logger zerolog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sub", flag.ExitOnError)
	domainName, endpoint := dialFlags(fs)
	topicList := fs.String("topics", "", "comma separated topic patterns to register")
	consumer := fs.String("consumer", "", "consumer id for registration")
	_ = fs.Parse(args)

	_, path, err := resolveEndpoint(*domainName, *endpoint)
	if err != nil {
		return err
	}
	conn, err := client.Dial(ctx, client.DefaultConfig(path), client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if topics := splitTopics(*topicList); len(topics) > 0 {
		if err := conn.Register(records.ConsumerRegistration{ConsumerID: *consumer, Topics: topics}); err != nil {
			return err
		}
		logger.Info().Strs("topics", topics).Msg("relaytap.sub registered")
	}

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if protocol.Classify(err) == protocol.CategoryTransport {
				return err
			}
			logger.Warn().Err(err).Str("category", protocol.Classify(err).String()).Msg("relaytap.sub bad message")
			continue
		}
		fmt.Fprintln(out, describe(msg))
	}
}

func runPub(ctx context.Context, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("pub", flag.ExitOnError)
	domainName, endpoint := dialFlags(fs)
	count := fs.Int("count", 10, "messages to send (0 = until interrupted)")
	interval := fs.Duration("interval", 100*time.Millisecond, "delay between messages")
	topic := fs.String("topic", "arbitrage.demo", "signal topic")
	_ = fs.Parse(args)

	domain, path, err := resolveEndpoint(*domainName, *endpoint)
	if err != nil {
		return err
	}
	cfg := client.DefaultConfig(path)
	cfg.Source = demoSource(domain)
	conn, err := client.Dial(ctx, cfg, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for seq := uint64(1); *count == 0 || seq <= uint64(*count); seq++ {
		raw, err := demoMessage(domain, cfg.Source, seq, *topic)
		if err != nil {
			return err
		}
		if err := conn.Send(raw); err != nil {
			return err
		}
		logger.Debug().Uint64("seq", seq).Int("bytes", len(raw)).Msg("relaytap.pub sent")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func demoSource(domain schema.RelayDomain) schema.SourceType {
	switch domain {
	case schema.DomainSignal:
		return schema.SourceArbitrageStrategy
	case schema.DomainExecution:
		return schema.SourceExecutionEngine
	case schema.DomainSystem:
		return schema.SourceMetricsCollector
	default:
		return schema.SourceKrakenCollector
	}
}

// demoMessage builds one message for domain. Trades walk the price up from
// 45123.5 in 0.01 steps.
func demoMessage(domain schema.RelayDomain, source schema.SourceType, seq uint64, topic string) ([]byte, error) {
	switch domain {
	case schema.DomainMarketData:
		return records.BuildTrade(source, seq, records.Trade{
			InstrumentID: 1,
			Side:         records.Side(1 + seq%2),
			Price:        4_512_350_000_000 + int64(seq)*1_000_000,
			Volume:       int64(seq) * 10_000_000,
		})
	case schema.DomainSignal:
		return records.BuildSignal(source, seq, topic, schema.TypeArbitrageSignal, []byte(fmt.Sprintf("demo-%d", seq)))
	case schema.DomainSystem:
		return protocol.NewBuilder(schema.DomainSystem, source).
			WithSequence(seq).
			Add(schema.TypeHeartbeat, records.Heartbeat{TimestampNs: uint64(time.Now().UnixNano()), Sequence: seq}.Encode()).
			Build()
	default:
		return nil, fmt.Errorf("no demo traffic for %s", domain)
	}
}

func describe(msg protocol.Message) string {
	h := msg.Header
	var b strings.Builder
	fmt.Fprintf(&b, "%s seq=%d src=%s bytes=%d", h.Domain, h.Sequence, h.Source, len(msg.Raw))
	for _, rec := range msg.Records {
		switch rec.Type {
		case schema.TypeTrade:
			if t, err := records.DecodeTrade(rec.Value); err == nil {
				fmt.Fprintf(&b, " trade{id=%d %s price=%.8f vol=%.8f}", t.InstrumentID, t.Side, t.PriceFloat(), float64(t.Volume)/records.PriceScale)
				continue
			}
		case schema.TypeSignalTopic:
			if topic, err := records.DecodeTopic(rec.Value); err == nil {
				fmt.Fprintf(&b, " topic=%s", topic)
				continue
			}
		}
		fmt.Fprintf(&b, " %s[%d]", rec.Type, len(rec.Value))
	}
	return b.String()
}

func splitTopics(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
