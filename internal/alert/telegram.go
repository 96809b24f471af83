package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// TelegramChannel delivers the verdict to a chat via the Bot API. When the
// incident still has its clip on disk the clip is sent as a video with the
// summary as caption; otherwise a plain message goes out.
type TelegramChannel struct {
	baseURL string // https://api.telegram.org overridable for tests
	token   string
	chatID  string
	http    *http.Client
}

func NewTelegramChannel(token, chatID string) *TelegramChannel {
	return &TelegramChannel{
		baseURL: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		// Video uploads of multi-MB clips need generous timeouts.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, n Notification) error {
	text := Summary(n)

	if n.ClipPath != "" {
		if _, err := os.Stat(n.ClipPath); err == nil {
			return c.sendVideo(ctx, n.ClipPath, text)
		}
	}
	return c.sendMessage(ctx, text)
}

func (c *TelegramChannel) sendMessage(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", c.chatID)
	form.Set("text", text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

func (c *TelegramChannel) sendVideo(ctx context.Context, clipPath, caption string) error {
	file, err := os.Open(clipPath)
	if err != nil {
		return fmt.Errorf("open clip: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("chat_id", c.chatID)
	mw.WriteField("caption", caption)
	part, err := mw.CreateFormFile("video", filepath.Base(clipPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read clip: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendVideo", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req)
}

func (c *TelegramChannel) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram call: status %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram response decode: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram rejected send: %s", out.Description)
	}
	return nil
}
