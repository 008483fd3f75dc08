// conf/validate.go

package conf

import (
	"fmt"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateDedupSettings(&settings.Dedup); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateDedupSettings checks the deduplication engine configuration.
// The retention horizon must cover every configured window, otherwise the
// cleanup scheduler could evict events that are still inside an active window.
func validateDedupSettings(dedup *DedupSettings) error {
	if dedup.DefaultWindow <= 0 {
		return fmt.Errorf("dedup.defaultwindow must be positive, got %v", dedup.DefaultWindow)
	}
	if dedup.CleanupInterval <= 0 {
		return fmt.Errorf("dedup.cleanupinterval must be positive, got %v", dedup.CleanupInterval)
	}
	if dedup.CleanupBatchSize <= 0 {
		return fmt.Errorf("dedup.cleanupbatchsize must be positive, got %d", dedup.CleanupBatchSize)
	}
	if dedup.QueryTimeout <= 0 {
		return fmt.Errorf("dedup.querytimeout must be positive, got %v", dedup.QueryTimeout)
	}
	if dedup.MaxHistoryAge < dedup.DefaultWindow {
		return fmt.Errorf("dedup.maxhistoryage %v is shorter than dedup.defaultwindow %v",
			dedup.MaxHistoryAge, dedup.DefaultWindow)
	}
	for eventType, window := range dedup.WindowOverrides {
		if window <= 0 {
			return fmt.Errorf("dedup.windowoverrides[%s] must be positive, got %v", eventType, window)
		}
		if dedup.MaxHistoryAge < window {
			return fmt.Errorf("dedup.maxhistoryage %v is shorter than window override %v for %s",
				dedup.MaxHistoryAge, window, eventType)
		}
	}
	return nil
}

// validateOutputSettings checks the durable tier configuration.
func validateOutputSettings(settings *Settings) error {
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		return fmt.Errorf("only one durable tier output may be enabled at a time")
	}
	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path cannot be empty when sqlite output is enabled")
	}
	if settings.Output.MySQL.Enabled {
		if settings.Output.MySQL.Host == "" || settings.Output.MySQL.Database == "" {
			return fmt.Errorf("output.mysql.host and output.mysql.database are required when mysql output is enabled")
		}
	}
	if settings.Dedup.DurableLookup && !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return fmt.Errorf("dedup.durablelookup requires an enabled durable tier output")
	}
	return nil
}
