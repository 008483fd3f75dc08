package admission

import (
	"maps"
	"time"
)

// WindowPolicy maps an event type to its deduplication window length.
// Immutable after construction.
type WindowPolicy struct {
	defaultWindow time.Duration
	overrides     map[string]time.Duration
}

// NewWindowPolicy creates a policy with the given default and per-type
// overrides. The override map is copied.
func NewWindowPolicy(defaultWindow time.Duration, overrides map[string]time.Duration) *WindowPolicy {
	p := &WindowPolicy{defaultWindow: defaultWindow}
	if len(overrides) > 0 {
		p.overrides = maps.Clone(overrides)
	}
	return p
}

// WindowFor returns the event-type-specific override if configured,
// otherwise the default window.
func (p *WindowPolicy) WindowFor(eventType string) time.Duration {
	if window, ok := p.overrides[eventType]; ok {
		return window
	}
	return p.defaultWindow
}
