package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ModelClient abstracts the generative model backend.
type ModelClient interface {
	// GenerateImage renders one scene frame for the prompt into outPath.
	GenerateImage(ctx context.Context, prompt, outPath string) error

	// GenerateSpeech synthesizes a voiceover for the script into outPath.
	GenerateSpeech(ctx context.Context, script, outPath string) error

	// Critique reviews the given frames against the prompt and returns a
	// written assessment.
	Critique(ctx context.Context, prompt string, framePaths []string) (string, error)
}

// HTTPModel talks to the model backend over its JSON API.
type HTTPModel struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPModel creates a client for the backend at endpoint.
func NewHTTPModel(endpoint, token string) *HTTPModel {
	return &HTTPModel{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

var _ ModelClient = (*HTTPModel)(nil)

func (m *HTTPModel) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode model request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: model request %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("pipeline: model returned %d on %s: %s", resp.StatusCode, path, detail)
	}
	return resp, nil
}

// saveBody streams a binary model response to disk.
func saveBody(resp *http.Response, outPath string) error {
	defer resp.Body.Close()
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return f.Sync()
}

// GenerateImage implements ModelClient.
func (m *HTTPModel) GenerateImage(ctx context.Context, prompt, outPath string) error {
	resp, err := m.post(ctx, "/v1/images", map[string]any{"prompt": prompt})
	if err != nil {
		return err
	}
	return saveBody(resp, outPath)
}

// GenerateSpeech implements ModelClient.
func (m *HTTPModel) GenerateSpeech(ctx context.Context, script, outPath string) error {
	resp, err := m.post(ctx, "/v1/speech", map[string]any{"text": script})
	if err != nil {
		return err
	}
	return saveBody(resp, outPath)
}

// Critique implements ModelClient. Frames travel base64-free as
// multipart is not needed; the backend accepts file contents inline.
func (m *HTTPModel) Critique(ctx context.Context, prompt string, framePaths []string) (string, error) {
	frames := make([][]byte, 0, len(framePaths))
	for _, p := range framePaths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("pipeline: read frame %s: %w", p, err)
		}
		frames = append(frames, raw)
	}

	resp, err := m.post(ctx, "/v1/critique", map[string]any{
		"prompt": prompt,
		"frames": frames,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("pipeline: decode critique: %w", err)
	}
	return out.Text, nil
}
