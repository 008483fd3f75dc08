package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/tphakala/notigate/internal/conf"
	"github.com/tphakala/notigate/internal/observability/metrics"
)

// Engine is the admission controller. It owns the memory tier and the cleanup
// scheduler, and consults an optional durable tier for cross-process matches.
// All methods are safe for concurrent use.
//
// The engine fails open: when duplication cannot be proven because a tier is
// unreachable or an internal error occurs, the check returns allowed rather
// than suppressing a possibly legitimate notification.
type Engine struct {
	config  conf.DedupSettings
	clock   Clock
	memory  *MemoryTier
	durable DurableTier
	policy  *WindowPolicy
	metrics *metrics.AdmissionMetrics

	scheduler *cron.Cron
	cleanupMu sync.Mutex

	totalProcessed atomic.Int64
	logger         *slog.Logger
}

// NewEngine creates an admission engine. durable may be nil for memory-only
// deduplication; clock defaults to SystemClock and m may be nil when metrics
// are not collected. The cleanup scheduler starts immediately and must be
// released with Shutdown.
func NewEngine(config *conf.DedupSettings, durable DurableTier, clock Clock, m *metrics.AdmissionMetrics, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		SetDebugLevel(config.Debug)
		logger = getLogger(config.Debug)
	}

	e := &Engine{
		config:  *config,
		clock:   clock,
		memory:  NewMemoryTier(),
		durable: durable,
		policy:  NewWindowPolicy(config.DefaultWindow, config.WindowOverrides),
		metrics: m,
		logger:  logger,
	}

	e.logger.Info("admission engine initialized",
		"default_window", config.DefaultWindow,
		"window_overrides", len(config.WindowOverrides),
		"max_history_age", config.MaxHistoryAge,
		"cleanup_interval", config.CleanupInterval,
		"durable_lookup", e.durableLookupEnabled())

	if config.CleanupInterval > 0 {
		e.scheduler = cron.New()
		if _, err := e.scheduler.AddFunc(fmt.Sprintf("@every %s", config.CleanupInterval), e.runCleanup); err != nil {
			e.logger.Error("failed to schedule cleanup task", "error", err)
		} else {
			e.scheduler.Start()
			e.logger.Info("cleanup scheduler started", "interval", config.CleanupInterval)
		}
	}

	return e
}

// durableLookupEnabled reports whether admission checks consult the durable
// tier.
func (e *Engine) durableLookupEnabled() bool {
	return e.durable != nil && e.config.DurableLookup
}

// ShouldAllow decides whether the candidate request may be delivered. The
// returned decision always carries the persisted event. A validation error is
// the only error surfaced to callers; every infrastructure failure degrades
// to an allow decision.
func (e *Engine) ShouldAllow(ctx context.Context, req *NotificationRequest) (decision *Decision, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.totalProcessed.Add(1)
	if e.metrics != nil {
		e.metrics.ChecksProcessed.Inc()
		start := e.clock.Now()
		defer func() {
			e.metrics.CheckDuration.Observe(e.clock.Now().Sub(start).Seconds())
		}()
	}

	now := e.clock.Now()
	event := newEvent(req, now)

	// Anything unexpected past this point must not suppress a real
	// notification; recover to an allow decision and keep the failure on
	// the event record.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("admission check failed, allowing notification",
				"event_type", req.EventType,
				"recipient_id", req.RecipientID,
				"panic", r)
			if e.metrics != nil {
				e.metrics.FailOpenEvents.Inc()
			}
			event.WithMetadata("admission_error", fmt.Sprintf("%v", r))
			e.memory.Record(event)
			e.persistDurable(ctx, event, "record_after_failure")
			decision = &Decision{Allowed: true, Event: event.Clone()}
			err = nil
		}
	}()

	window := e.policy.WindowFor(req.EventType)
	matchCutoff := now.Add(-window)
	evictCutoff := now.Add(-e.config.MaxHistoryAge)

	if match := e.memory.FindDuplicate(event, matchCutoff, evictCutoff); match != nil {
		return e.blockDuplicate(ctx, event, match), nil
	}

	// Record before the durable round trip so a concurrent check for the
	// same identity sees this event as early as possible. This narrows,
	// but does not close, the check-then-act race; at most one duplicate
	// can slip through per race window.
	e.memory.Record(event)

	if e.durableLookupEnabled() {
		if match := e.durableFind(ctx, event, matchCutoff); match != nil {
			return e.blockDuplicate(ctx, event, match), nil
		}
	}

	e.persistDurable(ctx, event, "record_pending")
	e.updateSizeGauge()
	if e.metrics != nil {
		e.metrics.ChecksAllowed.Inc()
	}

	if e.config.Debug {
		e.logger.Debug("notification allowed",
			"event_id", event.ID,
			"event_type", event.EventType,
			"recipient_id", event.RecipientID,
			"window", window)
	}

	return &Decision{Allowed: true, Event: event.Clone()}, nil
}

// blockDuplicate finalizes a suppressed event: it is persisted with duplicate
// status in both tiers so it participates in audits and future matching.
func (e *Engine) blockDuplicate(ctx context.Context, event *NotificationEvent, match *Match) *Decision {
	event.Status = StatusDuplicate
	event.WithMetadata("duplicate_of", match.Event.ID)

	var reason string
	switch match.Kind {
	case MatchExact:
		reason = fmt.Sprintf("exact duplicate of event %s within deduplication window", match.Event.ID)
	case MatchContent:
		reason = fmt.Sprintf("content duplicate of event %s within deduplication window", match.Event.ID)
	}

	e.memory.Record(event)
	e.persistDurable(ctx, event, "record_duplicate")
	e.updateSizeGauge()
	if e.metrics != nil {
		e.metrics.ChecksBlocked.WithLabelValues(string(match.Kind)).Inc()
	}

	e.logger.Debug("notification blocked as duplicate",
		"event_id", event.ID,
		"duplicate_of", match.Event.ID,
		"kind", match.Kind)

	return &Decision{
		Allowed:     false,
		Reason:      reason,
		DuplicateID: match.Event.ID,
		Event:       event.Clone(),
	}
}

// durableFind queries the durable tier under a bounded timeout. Any failure
// is logged and treated as "no match".
func (e *Engine) durableFind(ctx context.Context, event *NotificationEvent, cutoff time.Time) *Match {
	queryCtx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	defer cancel()

	match, err := e.durable.FindDuplicate(queryCtx, event, cutoff)
	if err != nil {
		e.logger.Warn("durable tier lookup failed, degrading to memory-only deduplication",
			"event_type", event.EventType,
			"error", err)
		return nil
	}
	return match
}

// persistDurable upserts the event into the durable tier, logging failures
// instead of propagating them.
func (e *Engine) persistDurable(ctx context.Context, event *NotificationEvent, operation string) {
	if e.durable == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	defer cancel()

	if err := e.durable.Record(writeCtx, event); err != nil {
		e.logger.Warn("durable tier write failed",
			"operation", operation,
			"event_id", event.ID,
			"error", err)
	}
}

// MarkSent records a successful delivery for the event. Best-effort
// bookkeeping: unknown IDs and illegal transitions are logged and ignored.
func (e *Engine) MarkSent(ctx context.Context, eventID string) {
	e.markDelivery(ctx, eventID, StatusSent, "")
}

// MarkFailed records a failed delivery attempt for the event. Failed events
// stay retryable. Best-effort bookkeeping, like MarkSent.
func (e *Engine) MarkFailed(ctx context.Context, eventID, errorMessage string) {
	e.markDelivery(ctx, eventID, StatusFailed, errorMessage)
}

func (e *Engine) markDelivery(ctx context.Context, eventID string, next Status, errorMessage string) {
	event, ok := e.memory.Get(eventID)
	if !ok && e.durable != nil {
		queryCtx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
		durableEvent, err := e.durable.Get(queryCtx, eventID)
		if err != nil {
			e.logger.Warn("delivery status update skipped, event lookup failed",
				"event_id", eventID,
				"status", next,
				"error", err)
			return
		}
		event, ok = durableEvent, true
	}
	if !ok {
		e.logger.Warn("delivery status update skipped, event not found",
			"event_id", eventID,
			"status", next)
		return
	}

	if !event.Status.CanTransitionTo(next) {
		e.logger.Warn("delivery status update skipped, illegal transition",
			"event_id", eventID,
			"from", event.Status,
			"to", next)
		return
	}

	now := e.clock.Now().UTC()
	event.Status = next
	event.DeliveryAttempts++
	event.LastAttempt = &now
	event.ErrorMessage = errorMessage

	e.memory.Record(event)
	e.persistDurable(ctx, event, "record_delivery_status")
}

// GetEvent returns the event with the given ID, consulting the memory tier
// first and the durable tier as fallback.
func (e *Engine) GetEvent(ctx context.Context, eventID string) (*NotificationEvent, error) {
	if event, ok := e.memory.Get(eventID); ok {
		return event, nil
	}
	if e.durable != nil {
		queryCtx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
		return e.durable.Get(queryCtx, eventID)
	}
	return nil, ErrEventNotFound
}

// Stats returns a point-in-time snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.updateSizeGauge()
	return Stats{
		MemoryTierSize: e.memory.Len(),
		RecentBlocked:  e.memory.CountByStatus(StatusDuplicate),
		TotalProcessed: e.totalProcessed.Load(),
	}
}

func (e *Engine) updateSizeGauge() {
	if e.metrics != nil {
		e.metrics.MemoryTierSize.Set(float64(e.memory.Len()))
	}
}

// runCleanup evicts events past the retention horizon from both tiers.
// Runs are serialized so overlapping ticks cannot race each other; admission
// checks proceed concurrently because eviction only touches the age boundary,
// never events still inside a configured window.
func (e *Engine) runCleanup() {
	e.cleanupMu.Lock()
	defer e.cleanupMu.Unlock()

	cutoff := e.clock.Now().Add(-e.config.MaxHistoryAge)

	memEvicted := e.memory.EvictBefore(cutoff)
	if e.metrics != nil && memEvicted > 0 {
		e.metrics.Evictions.WithLabelValues("memory").Add(float64(memEvicted))
	}

	durableEvicted := 0
	if e.durable != nil {
		durableEvicted = e.evictDurable(cutoff)
	}

	e.updateSizeGauge()
	if memEvicted > 0 || durableEvicted > 0 {
		e.logger.Debug("cleanup completed",
			"memory_evicted", memEvicted,
			"durable_evicted", durableEvicted,
			"cutoff", cutoff)
	}
}

// evictDurable deletes aged records in bounded batches, looping until a batch
// comes back short.
func (e *Engine) evictDurable(cutoff time.Time) int {
	total := 0
	for {
		batchCtx, cancel := context.WithTimeout(context.Background(), e.config.QueryTimeout)
		removed, err := e.durable.EvictBefore(batchCtx, cutoff, e.config.CleanupBatchSize)
		cancel()
		if err != nil {
			e.logger.Warn("durable tier eviction failed", "error", err)
			break
		}
		total += removed
		if e.metrics != nil && removed > 0 {
			e.metrics.Evictions.WithLabelValues("durable").Add(float64(removed))
		}
		if removed < e.config.CleanupBatchSize {
			break
		}
	}
	return total
}

// RunCleanupNow triggers a retention sweep outside the schedule. Used by the
// cleanup subcommand and tests.
func (e *Engine) RunCleanupNow() {
	e.runCleanup()
}

// Shutdown stops the cleanup scheduler, waits for any in-flight sweep and
// clears the memory tier. The engine must not be used afterwards.
func (e *Engine) Shutdown() {
	if e.scheduler != nil {
		stopCtx := e.scheduler.Stop()
		<-stopCtx.Done()
	}
	e.memory.Clear()
	e.updateSizeGauge()
	e.logger.Info("admission engine stopped")
}
