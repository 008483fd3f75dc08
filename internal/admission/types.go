// Package admission decides whether candidate notification events should be
// delivered or suppressed as duplicates. Identity is derived by hashing, recent
// events are matched against a fast in-memory tier and an authoritative durable
// tier, and a background scheduler trims both tiers to the retention horizon.
package admission

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/notigate/internal/errors"
)

// Priority represents the urgency level of a notification request
type Priority string

const (
	// PriorityLow indicates low priority/informational
	PriorityLow Priority = "low"
	// PriorityNormal indicates normal priority
	PriorityNormal Priority = "normal"
	// PriorityHigh indicates important but not urgent
	PriorityHigh Priority = "high"
	// PriorityUrgent indicates urgent attention required
	PriorityUrgent Priority = "urgent"
)

// Status represents the delivery state of a notification event
type Status string

const (
	// StatusPending indicates the event was admitted but not yet delivered
	StatusPending Status = "pending"
	// StatusSent indicates the event was delivered; terminal
	StatusSent Status = "sent"
	// StatusFailed indicates a delivery attempt failed; may be retried
	StatusFailed Status = "failed"
	// StatusDuplicate indicates the event was suppressed; terminal
	StatusDuplicate Status = "duplicate"
)

// CanTransitionTo reports whether a status change is legal. Pending may move
// anywhere, failed may be retried to sent or fail again, sent and duplicate
// are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed || next == StatusDuplicate
	case StatusFailed:
		return next == StatusSent || next == StatusFailed
	default:
		return false
	}
}

// Sentinel errors for admission operations
var (
	ErrEventNotFound = errors.Newf("notification event not found").Component("admission").Category(errors.CategoryNotFound).Build()
)

// Content is the displayable payload of a notification request.
type Content struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// NotificationRequest is a candidate event submitted for admission.
type NotificationRequest struct {
	EventType   string         `json:"eventType"`
	EntityID    string         `json:"entityId"`
	RecipientID string         `json:"recipientId"`
	Content     Content        `json:"content"`
	Source      string         `json:"source"`
	Priority    Priority       `json:"priority"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks that the request carries the identity fields required for
// fingerprint derivation.
func (r *NotificationRequest) Validate() error {
	var missing []string
	if r.EventType == "" {
		missing = append(missing, "eventType")
	}
	if r.EntityID == "" {
		missing = append(missing, "entityId")
	}
	if r.RecipientID == "" {
		missing = append(missing, "recipientId")
	}
	if len(missing) > 0 {
		return errors.Newf("notification request missing required fields: %v", missing).
			Component("admission").
			Category(errors.CategoryValidation).
			Context("missing_fields", missing).
			Build()
	}
	return nil
}

// NotificationEvent is the unit of record produced by an admission check.
// Every checked request yields exactly one persisted event, including
// suppressed ones, so later duplicates can match against them.
type NotificationEvent struct {
	ID               string         `json:"id"`
	EventType        string         `json:"eventType"`
	EntityID         string         `json:"entityId"`
	RecipientID      string         `json:"recipientId"`
	Fingerprint      string         `json:"fingerprint"`
	ContentHash      string         `json:"contentHash"`
	Timestamp        time.Time      `json:"timestamp"`
	Source           string         `json:"source"`
	Priority         Priority       `json:"priority"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Status           Status         `json:"status"`
	DeliveryAttempts int            `json:"deliveryAttempts"`
	LastAttempt      *time.Time     `json:"lastAttempt,omitempty"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
}

// Clone returns a copy of the event with its own metadata map, safe to hand
// out across goroutines.
func (e *NotificationEvent) Clone() *NotificationEvent {
	if e == nil {
		return nil
	}
	clone := *e
	if e.LastAttempt != nil {
		lastAttempt := *e.LastAttempt
		clone.LastAttempt = &lastAttempt
	}
	if e.Metadata != nil {
		clone.Metadata = maps.Clone(e.Metadata)
	}
	return &clone
}

// WithMetadata adds a metadata entry and returns the event for chaining.
func (e *NotificationEvent) WithMetadata(key string, value any) *NotificationEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// newEvent constructs a pending event for a validated request.
func newEvent(req *NotificationRequest, now time.Time) *NotificationEvent {
	event := &NotificationEvent{
		ID:          uuid.New().String(),
		EventType:   req.EventType,
		EntityID:    req.EntityID,
		RecipientID: req.RecipientID,
		Fingerprint: Fingerprint(req),
		ContentHash: ContentHash(&req.Content),
		Timestamp:   now.UTC(),
		Source:      req.Source,
		Priority:    req.Priority,
		Status:      StatusPending,
	}
	if req.Metadata != nil {
		event.Metadata = maps.Clone(req.Metadata)
	}
	return event
}

// MatchKind identifies which duplicate rule matched.
type MatchKind string

const (
	// MatchExact means same fingerprint and recipient inside the window
	MatchExact MatchKind = "exact"
	// MatchContent means same displayable content, recipient and entity
	// inside the window, with a differing fingerprint
	MatchContent MatchKind = "content"
)

// Match describes a duplicate found in one of the tiers.
type Match struct {
	Event *NotificationEvent
	Kind  MatchKind
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed     bool               `json:"allowed"`
	Reason      string             `json:"reason,omitempty"`
	DuplicateID string             `json:"duplicateId,omitempty"`
	Event       *NotificationEvent `json:"event"`
}

// DurableTier is the persistent event store consulted when the memory tier
// finds no match. Implementations must be safe for concurrent use. The engine
// treats every error from this interface as "no match" and never blocks a
// notification on tier failure.
type DurableTier interface {
	// FindDuplicate returns the most recent event matching the duplicate
	// rules newer than cutoff, or nil when there is none.
	FindDuplicate(ctx context.Context, event *NotificationEvent, cutoff time.Time) (*Match, error)
	// Record upserts the full event keyed by its ID.
	Record(ctx context.Context, event *NotificationEvent) error
	// Get fetches an event by ID.
	Get(ctx context.Context, id string) (*NotificationEvent, error)
	// EvictBefore deletes up to batchSize events older than cutoff and
	// reports how many were removed.
	EvictBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	MemoryTierSize int   `json:"memoryTierSize"`
	RecentBlocked  int   `json:"recentBlocked"`
	TotalProcessed int64 `json:"totalProcessed"`
}
