package medication

import "time"

// StockEventsTopic shares the dose topic so consumers see stock changes in
// order with the doses that caused them.
const StockEventsTopic = "dose.events"

// EventStockAdjusted is emitted whenever a stored quantity changes
const EventStockAdjusted = "StockAdjusted"

// StockAdjustedEvent describes a quantity change
type StockAdjustedEvent struct {
	ID           string    `json:"id"`
	MedicationID string    `json:"medication_id"`
	UserID       string    `json:"user_id"`
	EventType    string    `json:"event_type"`
	Quantity     int       `json:"quantity"`
	Delta        int       `json:"delta"`
	Timestamp    time.Time `json:"timestamp"`
}
