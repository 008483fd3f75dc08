package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/notigate/internal/admission"
	"github.com/tphakala/notigate/internal/errors"
)

// FindDuplicate looks for the most recent stored event that duplicates the
// candidate inside the window. Two bounded queries run in precedence order:
// first by fingerprint and recipient, then by content hash, recipient and
// entity. Each returns at most one row, newest first. Suppressed events are
// excluded, so duplicates never extend the window past the last admitted
// notification.
func (ds *DataStore) FindDuplicate(ctx context.Context, event *admission.NotificationEvent, cutoff time.Time) (*admission.Match, error) {
	if ds.DB == nil {
		return nil, errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}

	start := time.Now()
	defer ds.observe("find_duplicate", start)

	cutoffMs := cutoff.UnixMilli()

	var record Event
	err := ds.DB.WithContext(ctx).
		Where("fingerprint = ? AND recipient_id = ? AND timestamp_ms >= ? AND id <> ? AND status <> ?",
			event.Fingerprint, event.RecipientID, cutoffMs, event.ID, string(admission.StatusDuplicate)).
		Order("timestamp_ms DESC").
		First(&record).Error
	switch {
	case err == nil:
		matched, convErr := record.toNotificationEvent()
		if convErr != nil {
			ds.countError("find_duplicate")
			return nil, newDatabaseError(convErr, "find_duplicate", "stage", "decode")
		}
		return &admission.Match{Event: matched, Kind: admission.MatchExact}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		ds.countError("find_duplicate")
		return nil, newDatabaseError(err, "find_duplicate", "stage", "fingerprint_query")
	}

	err = ds.DB.WithContext(ctx).
		Where("content_hash = ? AND recipient_id = ? AND entity_id = ? AND timestamp_ms >= ? AND id <> ? AND status <> ?",
			event.ContentHash, event.RecipientID, event.EntityID, cutoffMs, event.ID, string(admission.StatusDuplicate)).
		Order("timestamp_ms DESC").
		First(&record).Error
	switch {
	case err == nil:
		matched, convErr := record.toNotificationEvent()
		if convErr != nil {
			ds.countError("find_duplicate")
			return nil, newDatabaseError(convErr, "find_duplicate", "stage", "decode")
		}
		return &admission.Match{Event: matched, Kind: admission.MatchContent}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		ds.countError("find_duplicate")
		return nil, newDatabaseError(err, "find_duplicate", "stage", "content_query")
	}

	return nil, nil
}

// Record upserts the full event keyed by its ID.
func (ds *DataStore) Record(ctx context.Context, event *admission.NotificationEvent) error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}

	start := time.Now()
	defer ds.observe("record", start)

	record, err := toEvent(event)
	if err != nil {
		ds.countError("record")
		return newDatabaseError(err, "record", "stage", "encode", "event_id", event.ID)
	}

	result := ds.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(record)
	if result.Error != nil {
		ds.countError("record")
		return newDatabaseError(result.Error, "record", "event_id", event.ID)
	}
	return nil
}

// Get fetches an event by ID.
func (ds *DataStore) Get(ctx context.Context, id string) (*admission.NotificationEvent, error) {
	if ds.DB == nil {
		return nil, errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}

	start := time.Now()
	defer ds.observe("get", start)

	var record Event
	err := ds.DB.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, admission.ErrEventNotFound
	}
	if err != nil {
		ds.countError("get")
		return nil, newDatabaseError(err, "get", "event_id", id)
	}

	event, err := record.toNotificationEvent()
	if err != nil {
		ds.countError("get")
		return nil, newDatabaseError(err, "get", "stage", "decode", "event_id", id)
	}
	return event, nil
}

// EvictBefore deletes up to batchSize events older than cutoff and reports
// how many were removed. Deleting by collected IDs keeps the statement
// portable across SQLite and MySQL, neither of which agrees on DELETE LIMIT.
func (ds *DataStore) EvictBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if ds.DB == nil {
		return 0, errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}

	start := time.Now()
	defer ds.observe("evict_before", start)

	var ids []string
	err := ds.DB.WithContext(ctx).
		Model(&Event{}).
		Where("timestamp_ms < ?", cutoff.UnixMilli()).
		Order("timestamp_ms ASC").
		Limit(batchSize).
		Pluck("id", &ids).Error
	if err != nil {
		ds.countError("evict_before")
		return 0, newDatabaseError(err, "evict_before", "stage", "select_batch")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := ds.DB.WithContext(ctx).Where("id IN ?", ids).Delete(&Event{})
	if result.Error != nil {
		ds.countError("evict_before")
		return 0, newDatabaseError(result.Error, "evict_before", "stage", "delete_batch")
	}

	removed := int(result.RowsAffected)
	if ds.metrics != nil {
		ds.metrics.RecordsDeleted.Add(float64(removed))
	}
	return removed, nil
}

func (ds *DataStore) observe(operation string, start time.Time) {
	if ds.metrics == nil {
		return
	}
	ds.metrics.Operations.WithLabelValues(operation).Inc()
	ds.metrics.QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (ds *DataStore) countError(operation string) {
	if ds.metrics != nil {
		ds.metrics.Errors.WithLabelValues(operation).Inc()
	}
}
