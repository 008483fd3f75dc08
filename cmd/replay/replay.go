// Package replay feeds a captured stream of notification requests through the
// admission engine and reports each decision.
package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/tphakala/notigate/internal/admission"
	"github.com/tphakala/notigate/internal/conf"
	"github.com/tphakala/notigate/internal/datastore"
	"github.com/tphakala/notigate/internal/logging"
	"github.com/tphakala/notigate/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Command returns a cobra command that replays NDJSON notification requests
// through the engine. Reads from the given file, or stdin when the argument
// is "-".
func Command(settings *conf.Settings) *cobra.Command {
	var markSent bool

	cmd := &cobra.Command{
		Use:   "replay [requests.ndjson]",
		Short: "Replay a request stream through the admission engine",
		Long: `Replay a newline-delimited JSON stream of notification requests through
the admission engine, printing one decision per line.

Examples:
  notigate replay requests.ndjson
  cat requests.ndjson | notigate replay -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(settings, args[0], markSent)
		},
	}

	cmd.Flags().BoolVar(&markSent, "mark-sent", false, "Mark allowed events as sent after each decision")

	return cmd
}

func runReplay(settings *conf.Settings, path string, markSent bool) error {
	logger := logging.ForService("replay")

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, m, logging.ForService("telemetry"))
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry endpoint: %w", err)
		}
		var telemetryWg sync.WaitGroup
		quitChan := make(chan struct{})
		endpoint.Start(&telemetryWg, quitChan)
		defer func() {
			close(quitChan)
			telemetryWg.Wait()
		}()
	}

	var durable datastore.Interface
	if settings.Output.SQLite.Enabled || settings.Output.MySQL.Enabled {
		durable = datastore.New(settings, m.Datastore)
		if err := durable.Open(); err != nil {
			return fmt.Errorf("failed to open durable tier: %w", err)
		}
		defer func() {
			if err := durable.Close(); err != nil {
				logger.Warn("failed to close durable tier", "error", err)
			}
		}()
	}

	var tier admission.DurableTier
	if durable != nil {
		tier = durable
	}
	engine := admission.NewEngine(&settings.Dedup, tier, nil, m.Admission, logger)
	defer engine.Shutdown()

	input, err := openInput(path)
	if err != nil {
		return err
	}
	defer input.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	ctx := context.Background()
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var req admission.NotificationRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			logger.Warn("skipping malformed request", "line", line, "error", err)
			continue
		}

		decision, err := engine.ShouldAllow(ctx, &req)
		if err != nil {
			logger.Warn("request rejected", "line", line, "error", err)
			continue
		}

		if markSent && decision.Allowed {
			engine.MarkSent(ctx, decision.Event.ID)
		}

		encoded, err := json.Marshal(decision)
		if err != nil {
			return fmt.Errorf("failed to encode decision: %w", err)
		}
		fmt.Fprintln(out, string(encoded))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed reading input: %w", err)
	}

	stats := engine.Stats()
	logger.Info("replay finished",
		"requests", line,
		"total_processed", stats.TotalProcessed,
		"blocked", stats.RecentBlocked,
		"memory_tier_size", stats.MemoryTierSize)

	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	return f, nil
}
