package datastore

import (
	"context"

	"github.com/tphakala/notigate/internal/errors"
)

// newDatabaseError wraps a database failure with the component metadata the
// engine uses for logging. Context pairs are key/value alternating.
func newDatabaseError(err error, operation string, keyvals ...any) error {
	category := errors.CategoryDatabase
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		category = errors.CategoryTimeout
	}

	builder := errors.New(err).
		Component("datastore").
		Category(category).
		Context("operation", operation)

	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			builder = builder.Context(key, keyvals[i+1])
		}
	}

	return builder.Build()
}
