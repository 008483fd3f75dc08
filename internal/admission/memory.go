package admission

import (
	"sync"
	"time"
)

// MemoryTier is the in-process store of recently seen events, consulted
// before the durable tier on every admission check. Events are keyed by ID
// and scanned for duplicate matches; the live set stays small because of the
// bounded retention horizon and periodic eviction.
type MemoryTier struct {
	mu     sync.RWMutex
	events map[string]*NotificationEvent
}

// NewMemoryTier creates an empty memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{
		events: make(map[string]*NotificationEvent),
	}
}

// FindDuplicate scans for a duplicate of the candidate event. An exact match
// (same fingerprint and recipient) takes precedence over a content match
// (same content hash, recipient and entity); within each kind the most recent
// event wins. Only events at or after matchCutoff participate, and suppressed
// events never anchor a match: the window is measured from the last admitted
// notification, so a stream of duplicates cannot extend suppression
// indefinitely. Entries older than evictCutoff encountered during the scan
// are evicted opportunistically, ahead of the scheduled sweep.
func (m *MemoryTier) FindDuplicate(candidate *NotificationEvent, matchCutoff, evictCutoff time.Time) *Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bestExact, bestContent *NotificationEvent

	for id, event := range m.events {
		if event.Timestamp.Before(evictCutoff) {
			delete(m.events, id)
			continue
		}
		if event.Timestamp.Before(matchCutoff) {
			continue
		}
		if event.Status == StatusDuplicate {
			continue
		}
		if event.RecipientID != candidate.RecipientID {
			continue
		}

		switch {
		case event.Fingerprint == candidate.Fingerprint:
			if bestExact == nil || event.Timestamp.After(bestExact.Timestamp) {
				bestExact = event
			}
		case event.ContentHash == candidate.ContentHash && event.EntityID == candidate.EntityID:
			if bestContent == nil || event.Timestamp.After(bestContent.Timestamp) {
				bestContent = event
			}
		}
	}

	if bestExact != nil {
		return &Match{Event: bestExact.Clone(), Kind: MatchExact}
	}
	if bestContent != nil {
		return &Match{Event: bestContent.Clone(), Kind: MatchContent}
	}
	return nil
}

// Record stores the event, replacing any existing entry with the same ID.
// The tier keeps its own copy.
func (m *MemoryTier) Record(event *NotificationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event.Clone()
}

// Get returns a copy of the event with the given ID.
func (m *MemoryTier) Get(id string) (*NotificationEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, false
	}
	return event.Clone(), true
}

// EvictBefore removes all events older than cutoff and reports how many were
// removed.
func (m *MemoryTier) EvictBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, event := range m.events {
		if event.Timestamp.Before(cutoff) {
			delete(m.events, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live entries.
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// CountByStatus returns the number of live entries with the given status.
func (m *MemoryTier) CountByStatus(status Status) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, event := range m.events {
		if event.Status == status {
			count++
		}
	}
	return count
}

// Clear removes all entries.
func (m *MemoryTier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string]*NotificationEvent)
}
