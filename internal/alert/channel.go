package alert

import (
	"context"
	"fmt"
)

// Notification is the read-only projection of a classified incident handed
// to channels. Channels never see or mutate the Incident itself.
type Notification struct {
	EventID     string
	Camera      string
	Suspicious  bool
	Description string
	ClipPath    string // local clip file, may be empty
	ClipURL     string // public clip link, may be empty
}

// Channel is one independent notification transport. Send is all-or-nothing:
// success or error, no partial states.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Summary builds the decorated operator-facing message text.
func Summary(n Notification) string {
	header := "🏃 NORMAL ACTIVITY 🏃"
	if n.Suspicious {
		header = "🚨 SECURITY ALERT 🚨"
	}
	text := header + "\n" + n.Description
	if n.ClipURL != "" {
		text += fmt.Sprintf("\n[Video Clip] %s", n.ClipURL)
	}
	return text
}
