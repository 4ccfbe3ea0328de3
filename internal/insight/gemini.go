// Package insight asks a Gemini model for a short next-step suggestion on a report.
package insight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"hydrowave/api/internal/upstream"
)

var (
	ErrNotConfigured = errors.New("insight provider is not configured")
	ErrEmptyAnswer   = errors.New("insight provider returned no text")
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// ReportContext carries the report fields the prompt is built from.
type ReportContext struct {
	Observation  string
	Condition    string
	WaterSource  string
	LocationName string
}

type Client struct {
	cfg  Config
	http *upstream.Client
}

func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: upstream.NewClient("gemini", upstream.Options{Timeout: cfg.Timeout, FailureThreshold: 3}),
	}
}

func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.cfg.APIKey) != ""
}

func BuildPrompt(r ReportContext) string {
	var b strings.Builder
	b.WriteString("A user submitted a water quality report:\n")
	fmt.Fprintf(&b, "- Observation: %s\n", r.Observation)
	fmt.Fprintf(&b, "- Condition: %s\n", r.Condition)
	fmt.Fprintf(&b, "- Water source: %s\n", r.WaterSource)
	fmt.Fprintf(&b, "- Location: %s\n\n", r.LocationName)
	b.WriteString("Suggest a short, plain-text next step for the user. ")
	b.WriteString("Search the web for environmental agencies responsible for this location and water source, ")
	b.WriteString("and name them if any are relevant; otherwise give general advice based on the details. ")
	b.WriteString("Answer in one or two sentences without bullet points or markdown.")
	return b.String()
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	Tools            []map[string]any `json:"tools,omitempty"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ThinkingConfig thinkingConfig `json:"thinkingConfig"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Suggest returns the model's trimmed answer for the report.
func (c *Client) Suggest(ctx context.Context, report ReportContext) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: BuildPrompt(report)}}}},
		Tools:    []map[string]any{{"google_search": map[string]any{}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode insight request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build insight request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}

	var decoded generateResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", fmt.Errorf("decode insight response: %w", err)
	}
	var text strings.Builder
	for _, cand := range decoded.Candidates {
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
		if text.Len() > 0 {
			break
		}
	}
	answer := strings.TrimSpace(text.String())
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}
