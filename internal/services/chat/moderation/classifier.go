package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPClassifierConfig configures the responses-style classifier endpoint
// and HTTP behavior.
type HTTPClassifierConfig struct {
	ResponsesURL string
	APIKey       string
	Model        string
	HTTPClient   *http.Client
}

type httpClassifier struct {
	cfg HTTPClassifierConfig
}

// NewHTTPClassifier builds a classifier that posts a structured-output
// request to a responses-style completion endpoint and decodes the
// schema-constrained {is_safe, reason} verdict from the model output.
func NewHTTPClassifier(cfg HTTPClassifierConfig) Classifier {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = "https://api.openai.com/v1/responses"
	}
	return &httpClassifier{cfg: cfg}
}

// verdictSchema constrains the model response to a boolean verdict plus a
// reason string, keeping parsing a typed decode step instead of free-text
// scraping.
var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_safe": map[string]any{"type": "boolean"},
		"reason": map[string]any{
			"type":        "string",
			"description": "Reason if not safe, or 'N/A' if safe.",
		},
	},
	"required":             []string{"is_safe", "reason"},
	"additionalProperties": false,
}

func (c *httpClassifier) Classify(ctx context.Context, text string) (ClassifierResult, error) {
	responsesURL := strings.TrimSpace(c.cfg.ResponsesURL)
	apiKey := strings.TrimSpace(c.cfg.APIKey)
	model := strings.TrimSpace(c.cfg.Model)
	if apiKey == "" {
		return ClassifierResult{}, fmt.Errorf("api key is required")
	}
	if model == "" {
		return ClassifierResult{}, fmt.Errorf("model is required")
	}

	prompt := fmt.Sprintf(
		"Is the following chat message safe and appropriate for a general audience? "+
			"Respond with a JSON object containing 'is_safe' (boolean) and 'reason' (string, 'N/A' if safe). Message: %q",
		text,
	)

	requestBody, err := json.Marshal(map[string]any{
		"model": model,
		"input": prompt,
		"text": map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   "moderation_verdict",
				"strict": true,
				"schema": verdictSchema,
			},
		},
	})
	if err != nil {
		return ClassifierResult{}, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return ClassifierResult{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material travels only as an Authorization header and is
	// never echoed in errors or verdict reasons.
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return ClassifierResult{}, fmt.Errorf("classify request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return ClassifierResult{}, fmt.Errorf("read classify error body: %w", err)
		}
		return ClassifierResult{}, fmt.Errorf("classify request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return ClassifierResult{}, fmt.Errorf("decode classify response: %w", err)
	}
	outputText := strings.TrimSpace(payload.OutputText)
	if outputText == "" {
		for _, item := range payload.Output {
			for _, content := range item.Content {
				if strings.TrimSpace(content.Text) != "" {
					outputText = strings.TrimSpace(content.Text)
					break
				}
			}
			if outputText != "" {
				break
			}
		}
	}
	if outputText == "" {
		return ClassifierResult{}, fmt.Errorf("classify response missing output text")
	}

	var verdict struct {
		IsSafe *bool  `json:"is_safe"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(outputText), &verdict); err != nil {
		return ClassifierResult{}, fmt.Errorf("decode verdict payload: %w", err)
	}
	if verdict.IsSafe == nil {
		return ClassifierResult{}, fmt.Errorf("verdict payload missing is_safe")
	}
	return ClassifierResult{IsSafe: *verdict.IsSafe, Reason: strings.TrimSpace(verdict.Reason)}, nil
}
