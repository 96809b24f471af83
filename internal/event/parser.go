package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Parse decodes a raw broker payload into an ActivityEvent.
// Malformed JSON or a payload with no event id is rejected here so the
// pipeline never sees a half-formed event.
func Parse(payload []byte) (*ActivityEvent, error) {
	var evt ActivityEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("event payload missing type")
	}
	if evt.EventID() == "" {
		return nil, fmt.Errorf("event payload missing id")
	}
	evt.ReceivedAt = time.Now()
	return &evt, nil
}
