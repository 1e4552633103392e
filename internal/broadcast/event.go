package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
)

// Chat lifecycle events pushed to clients. Names are part of the client
// contract.
const (
	EventRequestReceived = "chat:request-received"
	EventAccepted        = "chat:accepted"
	EventDeclined        = "chat:declined"
	EventDeclinedRetried = "chat:declined-retried"
	EventEnded           = "chat:ended"
	EventEndedRetried    = "chat:ended-retried"
	EventExpired         = "chat:expired"
	EventExtended        = "chat:extended"
	EventUnattendedCount = "chat:unattended-count"
	EventMessage         = "chat:message"
)

// Event is the envelope published on the shared channel. Every process
// receives every event and delivers only to locally held connections of
// UserID.
type Event struct {
	Name    string          `json:"event"`
	UserID  int64           `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

func NewEvent(name string, userID int64, payload any) (Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, UserID: userID, Payload: encoded}, nil
}

// Frame renders the envelope as the websocket frame clients receive.
func (e Event) Frame() ([]byte, error) {
	return json.Marshal(struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: e.Name, Payload: e.Payload})
}

// Broadcaster publishes one event to the whole fleet. Delivery to a user
// with no live connection anywhere is not an error; they catch up on
// their next list call.
type Broadcaster interface {
	Publish(ctx context.Context, event Event) error
}

// Registry is the process-local connection table the subscribing side
// hands frames to.
type Registry interface {
	DeliverIfPresent(userID int64, frame []byte)
}
