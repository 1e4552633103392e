package broadcast

import (
	"context"
	"encoding/json"
	"testing"
)

type recordingRegistry struct {
	delivered map[int64][][]byte
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{delivered: make(map[int64][][]byte)}
}

func (r *recordingRegistry) DeliverIfPresent(userID int64, frame []byte) {
	r.delivered[userID] = append(r.delivered[userID], frame)
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := NewMemoryBus()
	first := newRecordingRegistry()
	second := newRecordingRegistry()
	bus.Subscribe(first)
	bus.Subscribe(second)

	event, err := NewEvent(EventAccepted, 42, map[string]any{"id": 7})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i, registry := range []*recordingRegistry{first, second} {
		frames := registry.delivered[42]
		if len(frames) != 1 {
			t.Fatalf("subscriber %d: expected 1 frame for user 42, got %d", i, len(frames))
		}
	}
}

func TestFrameCarriesEventNameAndPayload(t *testing.T) {
	event, err := NewEvent(EventUnattendedCount, 9, map[string]int{"count": 3})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	frame, err := event.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			Count int `json:"count"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if decoded.Type != EventUnattendedCount {
		t.Fatalf("expected type %s, got %s", EventUnattendedCount, decoded.Type)
	}
	if decoded.Payload.Count != 3 {
		t.Fatalf("expected count 3, got %d", decoded.Payload.Count)
	}
}
