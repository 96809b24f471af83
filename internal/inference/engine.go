package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sunny-osprey/osprey/internal/frames"
)

// Classification is the validated verdict for one incident. RawText is the
// verbatim engine output and is retained even when parsing fails, for audit.
type Classification struct {
	Suspicious  bool   `json:"suspicious"`
	Description string `json:"description"`
	RawText     string `json:"raw_text"`
}

// ErrEngineUnavailable is the one engine error the gate retries once:
// the engine process is up but transiently refused the call.
var ErrEngineUnavailable = errors.New("inference engine unavailable")

// Engine is the vision-language inference collaborator. It has no queue of
// its own; serialization is entirely the gate's job. Calls may block for
// multiple seconds proportional to frame count.
type Engine interface {
	Infer(ctx context.Context, systemPrompt, userPrompt string, fs []frames.Frame, maxTokens int) (string, error)
}

// HTTPEngine calls an OpenAI-compatible chat completion endpoint with the
// sampled frames inlined as base64 JPEG data URLs, in temporal order.
type HTTPEngine struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
}

func NewHTTPEngine(baseURL, model string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		model:   model,
		// No client-level timeout: the gate owns the per-call deadline.
		http: &http.Client{},
	}
}

// WithAPIKey sets a bearer token for hosted endpoints. Local engines need
// none.
func (e *HTTPEngine) WithAPIKey(key string) *HTTPEngine {
	e.apiKey = key
	return e
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (e *HTTPEngine) Infer(ctx context.Context, systemPrompt, userPrompt string, fs []frames.Frame, maxTokens int) (string, error) {
	userContent := []contentPart{{Type: "text", Text: userPrompt}}
	for _, f := range fs {
		userContent = append(userContent, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.JPEG),
			},
		})
	}

	body, err := json.Marshal(chatRequest{
		Model:     e.model,
		MaxTokens: maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: []contentPart{{Type: "text", Text: systemPrompt}}},
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("engine call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrEngineUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("engine call: status %d: %s", resp.StatusCode, string(data))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("engine response decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("engine response has no choices")
	}

	log.Printf("[Engine] Inference completed in %.2fs (%d frames)", time.Since(start).Seconds(), len(fs))
	return out.Choices[0].Message.Content, nil
}
