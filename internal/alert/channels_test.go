package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary_Decoration(t *testing.T) {
	n := Notification{Suspicious: true, Description: "prowler at door", ClipURL: "http://clips/e1"}
	s := Summary(n)
	assert.Contains(t, s, "SECURITY ALERT")
	assert.Contains(t, s, "prowler at door")
	assert.Contains(t, s, "[Video Clip] http://clips/e1")

	n.Suspicious = false
	n.ClipURL = ""
	s = Summary(n)
	assert.Contains(t, s, "NORMAL ACTIVITY")
	assert.NotContains(t, s, "[Video Clip]")
}

func TestTelegram_SendMessage(t *testing.T) {
	var gotPath, gotChatID, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotChatID = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	ch := NewTelegramChannel("tok123", "chat42")
	ch.baseURL = srv.URL

	err := ch.Send(context.Background(), Notification{EventID: "e1", Suspicious: true, Description: "prowler"})
	require.NoError(t, err)

	assert.Equal(t, "/bottok123/sendMessage", gotPath)
	assert.Equal(t, "chat42", gotChatID)
	assert.Contains(t, gotText, "SECURITY ALERT")
}

func TestTelegram_SendVideoWithCaption(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("video-bytes"), 0o644))

	var gotPath, caption string
	var videoBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		caption = r.FormValue("caption")
		f, _, err := r.FormFile("video")
		require.NoError(t, err)
		defer f.Close()
		buf := make([]byte, 32)
		n, _ := f.Read(buf)
		videoBytes = buf[:n]
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	ch := NewTelegramChannel("tok", "chat")
	ch.baseURL = srv.URL

	err := ch.Send(context.Background(), Notification{EventID: "e1", Suspicious: false, Description: "runner", ClipPath: clip})
	require.NoError(t, err)

	assert.Equal(t, "/bottok/sendVideo", gotPath)
	assert.Contains(t, caption, "NORMAL ACTIVITY")
	assert.Equal(t, "video-bytes", string(videoBytes))
}

func TestTelegram_APIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	ch := NewTelegramChannel("tok", "chat")
	ch.baseURL = srv.URL

	err := ch.Send(context.Background(), Notification{Description: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestGrafanaIRM_Send(t *testing.T) {
	var got irmIncident
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/plugins/grafana-irm-app/resources/api/v1/IncidentsService.CreateIncident", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "inc-1"})
	}))
	defer srv.Close()

	ch := NewGrafanaIRMChannel(srv.URL, "key123")
	err := ch.Send(context.Background(), Notification{
		EventID:     "e1",
		Suspicious:  true,
		Description: "person climbing fence",
		ClipURL:     "http://clips/e1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer key123", auth)
	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, "security-alert", got.RoomPrefix)
	assert.Contains(t, got.Title, "Security Alert")
	assert.Contains(t, got.Title, "Event e1")
	assert.Equal(t, "http://clips/e1", got.AttachURL)
	assert.False(t, got.IsDrill)
}

func TestGrafanaIRM_NormalActivitySeverity(t *testing.T) {
	var got irmIncident
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewGrafanaIRMChannel(srv.URL, "key")
	require.NoError(t, ch.Send(context.Background(), Notification{EventID: "e2", Description: "dog walker"}))

	assert.Equal(t, "info", got.Severity)
	assert.Equal(t, "normal-activity", got.RoomPrefix)
}

func TestGrafanaIRM_TitleTruncation(t *testing.T) {
	var got irmIncident
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	long := strings.Repeat("a", 150)
	ch := NewGrafanaIRMChannel(srv.URL, "key")
	require.NoError(t, ch.Send(context.Background(), Notification{EventID: "e3", Description: long}))

	assert.Contains(t, got.Title, strings.Repeat("a", 97)+"...")
	assert.NotContains(t, got.Title, strings.Repeat("a", 101))
}

func TestGrafanaIRM_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewGrafanaIRMChannel(srv.URL, "key")
	assert.Error(t, ch.Send(context.Background(), Notification{EventID: "e4", Description: "x"}))
}
