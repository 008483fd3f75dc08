package datastore

import (
	"encoding/json"
	"time"

	"github.com/tphakala/notigate/internal/admission"
)

// Event is the durable record of a notification admission check. Timestamps
// are stored as milliseconds since epoch so records written by producers in
// other languages compare identically.
type Event struct {
	ID               string `gorm:"primaryKey;size:36"`
	EventType        string `gorm:"size:100;not null;index"`
	EntityID         string `gorm:"size:100;not null;index:idx_events_content,priority:3"`
	RecipientID      string `gorm:"size:100;not null;index:idx_events_identity,priority:2;index:idx_events_content,priority:2"`
	Fingerprint      string `gorm:"size:64;not null;index:idx_events_identity,priority:1"`
	ContentHash      string `gorm:"size:32;not null;index:idx_events_content,priority:1"`
	TimestampMs      int64  `gorm:"not null;index;index:idx_events_identity,priority:3;index:idx_events_content,priority:4"`
	Source           string `gorm:"size:100"`
	Priority         string `gorm:"size:20"`
	Metadata         string `gorm:"type:text"`
	Status           string `gorm:"size:20;not null"`
	DeliveryAttempts int    `gorm:"not null;default:0"`
	LastAttemptMs    *int64
	ErrorMessage     string `gorm:"type:text"`
}

// TableName returns the table name for GORM.
func (Event) TableName() string {
	return "notification_events"
}

// toEvent converts an engine event into its durable representation.
func toEvent(e *admission.NotificationEvent) (*Event, error) {
	record := &Event{
		ID:               e.ID,
		EventType:        e.EventType,
		EntityID:         e.EntityID,
		RecipientID:      e.RecipientID,
		Fingerprint:      e.Fingerprint,
		ContentHash:      e.ContentHash,
		TimestampMs:      e.Timestamp.UnixMilli(),
		Source:           e.Source,
		Priority:         string(e.Priority),
		Status:           string(e.Status),
		DeliveryAttempts: e.DeliveryAttempts,
		ErrorMessage:     e.ErrorMessage,
	}
	if e.LastAttempt != nil {
		lastAttemptMs := e.LastAttempt.UnixMilli()
		record.LastAttemptMs = &lastAttemptMs
	}
	if len(e.Metadata) > 0 {
		encoded, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
		record.Metadata = string(encoded)
	}
	return record, nil
}

// toNotificationEvent converts a durable record back into an engine event.
func (r *Event) toNotificationEvent() (*admission.NotificationEvent, error) {
	event := &admission.NotificationEvent{
		ID:               r.ID,
		EventType:        r.EventType,
		EntityID:         r.EntityID,
		RecipientID:      r.RecipientID,
		Fingerprint:      r.Fingerprint,
		ContentHash:      r.ContentHash,
		Timestamp:        time.UnixMilli(r.TimestampMs).UTC(),
		Source:           r.Source,
		Priority:         admission.Priority(r.Priority),
		Status:           admission.Status(r.Status),
		DeliveryAttempts: r.DeliveryAttempts,
		ErrorMessage:     r.ErrorMessage,
	}
	if r.LastAttemptMs != nil {
		lastAttempt := time.UnixMilli(*r.LastAttemptMs).UTC()
		event.LastAttempt = &lastAttempt
	}
	if r.Metadata != "" {
		metadata := make(map[string]any)
		if err := json.Unmarshal([]byte(r.Metadata), &metadata); err != nil {
			return nil, err
		}
		event.Metadata = metadata
	}
	return event, nil
}
