package dose

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventsTopic carries dose events to downstream consumers
const EventsTopic = "dose.events"

// EventType represents the type of domain event
type EventType string

const (
	EventDoseTaken   EventType = "DoseTaken"
	EventDoseSkipped EventType = "DoseSkipped"
)

// Event represents a dose domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	UserID        string          `json:"user_id"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent creates a new event
func NewEvent(aggregateID, aggregateType, userID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		UserID:        userID,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// EventForOverride builds the event announcing a recorded override
func EventForOverride(rec OverrideRecord) (*Event, error) {
	eventType := EventDoseTaken
	if rec.Status == StatusSkipped {
		eventType = EventDoseSkipped
	}
	return NewEvent(rec.Key, "Dose", rec.UserID, eventType, &DoseRecordedData{
		DoseKey:       rec.Key,
		ScheduleID:    rec.ScheduleID,
		MedicationID:  rec.MedicationID,
		ScheduledTime: rec.ScheduledTime,
		Status:        rec.Status,
		TakenAt:       rec.TakenAt,
	})
}

// DoseRecordedData contains the details of a taken or skipped dose
type DoseRecordedData struct {
	DoseKey       string     `json:"dose_key"`
	ScheduleID    string     `json:"schedule_id"`
	MedicationID  string     `json:"medication_id"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	Status        Status     `json:"status"`
	TakenAt       *time.Time `json:"taken_at,omitempty"`
}
