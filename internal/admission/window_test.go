package admission

import (
	"testing"
	"time"
)

func TestWindowPolicy(t *testing.T) {
	t.Parallel()

	policy := NewWindowPolicy(30*time.Second, map[string]time.Duration{
		"booking.changed": 2 * time.Minute,
	})

	if got := policy.WindowFor("booking.changed"); got != 2*time.Minute {
		t.Errorf("Expected override window 2m, got %v", got)
	}
	if got := policy.WindowFor("job.assigned"); got != 30*time.Second {
		t.Errorf("Expected default window 30s, got %v", got)
	}
}

func TestWindowPolicyCopiesOverrides(t *testing.T) {
	t.Parallel()

	overrides := map[string]time.Duration{"job.assigned": time.Minute}
	policy := NewWindowPolicy(30*time.Second, overrides)

	overrides["job.assigned"] = time.Hour
	if got := policy.WindowFor("job.assigned"); got != time.Minute {
		t.Errorf("Policy shares the caller's map, got %v after external mutation", got)
	}
}
