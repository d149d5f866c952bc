package footfall

import "time"

// EventTypeNewData marks an event emitted for a freshly ingested reading.
const EventTypeNewData = "new_data"

// Event is published to observers for every successful ingest.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	SensorID  string    `json:"sensor_id"`
	Type      string    `json:"type"`
	Count     int       `json:"count"`
}

// Publisher fans events out to connected observers. Publish must not block
// on slow observers and never fails; delivery is best effort.
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(event).
func (f PublisherFunc) Publish(event Event) { f(event) }

// NopPublisher discards events.
type NopPublisher struct{}

// Publish discards event.
func (NopPublisher) Publish(Event) {}
