package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSChannel publishes verdict envelopes to a subject for downstream ops
// consumers (dashboards, recorders, automations).
type NATSChannel struct {
	conn    *nats.Conn
	subject string
}

func NewNATSChannel(conn *nats.Conn, subject string) *NATSChannel {
	return &NATSChannel{conn: conn, subject: subject}
}

func (c *NATSChannel) Name() string { return "nats" }

// VerdictEnvelope is the wire shape published to the subject.
type VerdictEnvelope struct {
	AlertID     uuid.UUID `json:"alert_id"`
	EventID     string    `json:"event_id"`
	Camera      string    `json:"camera"`
	Suspicious  bool      `json:"suspicious"`
	Description string    `json:"description"`
	ClipURL     string    `json:"clip_url,omitempty"`
	EmittedAt   time.Time `json:"emitted_at"`
}

func (c *NATSChannel) Send(ctx context.Context, n Notification) error {
	env := VerdictEnvelope{
		AlertID:     uuid.New(),
		EventID:     n.EventID,
		Camera:      n.Camera,
		Suspicious:  n.Suspicious,
		Description: n.Description,
		ClipURL:     n.ClipURL,
		EmittedAt:   time.Now(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	if err := c.conn.Publish(c.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}
