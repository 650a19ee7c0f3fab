// Package ollama implements the detect.Detector capability with a local
// vision model served by Ollama. It is the offline alternative to the Cloud
// Vision backend and relies on a strict JSON prompt.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/detect"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// localizePrompt instructs the model to behave like an object localizer.
const localizePrompt = `You are an object localizer.

Return JSON only: an array of detected objects, most prominent first, at most %d entries:
[
  {"label": "string", "confidence": 0.0, "box": {"x_min": 0.0, "y_min": 0.0, "x_max": 0.0, "y_max": 0.0}}
]

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels) with x_min <= x_max and y_min <= y_max.
- Omit the "box" field entirely when an object has no clear extent.
- confidence is in [0,1].
- If nothing is detected, return [].
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Client drives an Ollama vision model as a detector backend.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates an Ollama backed detector. serverURL may include a path
// such as /api/chat; only scheme and host are used.
func NewClient(serverURL, model string) (*Client, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &Client{client: api.NewClient(base, http.DefaultClient), model: model}, nil
}

// Detect sends the image once and parses the model's JSON array. Any chat or
// parse failure fails the whole call.
func (c *Client) Detect(ctx context.Context, imageBytes []byte) ([]types.DetectedObject, error) {
	// Local vision models on CPU can be slow; bound the call if the caller
	// did not.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: fmt.Sprintf(localizePrompt, detect.MaxObjects),
				Images:  []api.ImageData{api.ImageData(imageBytes)},
			},
		},
		Stream: &streamFalse,
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama chat: %v", detect.ErrDetectionFailed, err)
	}
	if strings.TrimSpace(responseContent) == "" {
		return nil, fmt.Errorf("%w: empty response from ollama", detect.ErrDetectionFailed)
	}

	return parseDetections(responseContent)
}

// modelObject mirrors the JSON shape requested from the model.
type modelObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        *struct {
		XMin float64 `json:"x_min"`
		YMin float64 `json:"y_min"`
		XMax float64 `json:"x_max"`
		YMax float64 `json:"y_max"`
	} `json:"box"`
}

func parseDetections(raw string) ([]types.DetectedObject, error) {
	raw = sanitizeModelJSON(raw)

	var parsed []modelObject
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse model response: %v", detect.ErrDetectionFailed, err)
	}

	if len(parsed) > detect.MaxObjects {
		parsed = parsed[:detect.MaxObjects]
	}

	objects := make([]types.DetectedObject, 0, len(parsed))
	for _, m := range parsed {
		obj := types.DetectedObject{
			Label:      strings.TrimSpace(m.Label),
			Confidence: clamp(m.Confidence, 0, 1),
		}
		if m.Box != nil {
			obj.Box = detect.BoxFromPolygon([]detect.Point{
				{X: clamp(m.Box.XMin, 0, 1), Y: clamp(m.Box.YMin, 0, 1)},
				{X: clamp(m.Box.XMax, 0, 1), Y: clamp(m.Box.YMax, 0, 1)},
			})
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from a
// model response and keeps the outermost JSON array.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	// Remove /* ... */ block comments
	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")

	// Remove // line/inline comments
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")
	reInline := regexp.MustCompile(`(?m)//.*$`)
	raw = reInline.ReplaceAllString(raw, "")

	// Remove trailing commas before } or ]
	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost [...]
	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
