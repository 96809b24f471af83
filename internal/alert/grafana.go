package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GrafanaIRMChannel opens an incident in Grafana IRM for each verdict.
type GrafanaIRMChannel struct {
	host   string
	apiKey string
	http   *http.Client
}

func NewGrafanaIRMChannel(host, apiKey string) *GrafanaIRMChannel {
	return &GrafanaIRMChannel{
		host:   host,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *GrafanaIRMChannel) Name() string { return "grafana_irm" }

type irmIncident struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Severity      string `json:"severity"`
	Status        string `json:"status"`
	IsDrill       bool   `json:"isDrill"`
	RoomPrefix    string `json:"roomPrefix"`
	AttachCaption string `json:"attachCaption,omitempty"`
	AttachURL     string `json:"attachURL,omitempty"`
}

func (c *GrafanaIRMChannel) Send(ctx context.Context, n Notification) error {
	title := n.Description
	if len(title) > 100 {
		title = title[:97] + "..."
	}

	severity := "info"
	roomPrefix := "normal-activity"
	titlePrefix := "NORMAL ACTIVITY"
	if n.Suspicious {
		severity = "critical"
		roomPrefix = "security-alert"
		titlePrefix = "Security Alert"
	}

	payload := irmIncident{
		Title:         fmt.Sprintf("%s: %s - Event %s", titlePrefix, title, n.EventID),
		Description:   Summary(n),
		Severity:      severity,
		Status:        "active",
		IsDrill:       false,
		RoomPrefix:    roomPrefix,
		AttachCaption: n.Description,
		AttachURL:     n.ClipURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := c.host + "/api/plugins/grafana-irm-app/resources/api/v1/IncidentsService.CreateIncident"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("grafana irm call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("grafana irm call: status %d: %s", resp.StatusCode, string(data))
	}
	return nil
}
