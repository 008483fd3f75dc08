// Package cleanup runs a one-shot retention sweep against the durable tier.
package cleanup

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/notigate/internal/admission"
	"github.com/tphakala/notigate/internal/conf"
	"github.com/tphakala/notigate/internal/datastore"
	"github.com/tphakala/notigate/internal/logging"
	"github.com/tphakala/notigate/internal/observability"
)

// Command returns a cobra command that evicts events older than the retention
// horizon from the durable tier.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Evict events past the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(settings)
		},
	}
}

func runCleanup(settings *conf.Settings) error {
	logger := logging.ForService("cleanup")

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	durable := datastore.New(settings, m.Datastore)
	if durable == nil {
		return fmt.Errorf("no durable tier output enabled, nothing to clean up")
	}
	if err := durable.Open(); err != nil {
		return fmt.Errorf("failed to open durable tier: %w", err)
	}
	defer func() {
		if err := durable.Close(); err != nil {
			logger.Warn("failed to close durable tier", "error", err)
		}
	}()

	// One-shot run, the periodic scheduler stays off.
	engineConfig := settings.Dedup
	engineConfig.CleanupInterval = 0

	engine := admission.NewEngine(&engineConfig, durable, nil, m.Admission, logger)
	defer engine.Shutdown()

	engine.RunCleanupNow()
	return nil
}
