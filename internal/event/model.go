package event

import "time"

// ActivityEvent is the payload published by the detection subsystem on the
// events topic. Only the fields the pipeline consumes are modeled; the rest
// of the payload is carried opaquely in Raw for diagnostics.
type ActivityEvent struct {
	Type   string        `json:"type"` // "new", "update", "end"
	Before *ObjectRecord `json:"before,omitempty"`
	After  *ObjectRecord `json:"after,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// ObjectRecord is the per-object state snapshot inside an event.
type ObjectRecord struct {
	ID      string  `json:"id"`
	Camera  string  `json:"camera"`
	Label   string  `json:"label"`
	HasClip bool    `json:"has_clip"`
	Score   float64 `json:"score"`
}

const TypeEnd = "end"

// IsFinal reports whether this event closes out an object's lifecycle with a
// recorded clip. Partial ("new"/"update") events carry no final clip and are
// never processed.
func (e *ActivityEvent) IsFinal() bool {
	return e.Type == TypeEnd && e.After != nil && e.After.HasClip
}

// EventID returns the stable object id, preferring the "after" record.
func (e *ActivityEvent) EventID() string {
	if e.After != nil && e.After.ID != "" {
		return e.After.ID
	}
	if e.Before != nil {
		return e.Before.ID
	}
	return ""
}

// Camera returns the camera label, preferring the "after" record.
func (e *ActivityEvent) Camera() string {
	if e.After != nil && e.After.Camera != "" {
		return e.After.Camera
	}
	if e.Before != nil {
		return e.Before.Camera
	}
	return ""
}
