package policy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPOracle calls an inference endpoint that accepts a JSON body with
// the prompt and a base64 frame and answers with completion text. The
// request deadline comes from the caller's context.
type HTTPOracle struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

func NewHTTPOracle(url, model, apiKey string) *HTTPOracle {
	return &HTTPOracle{
		url:    url,
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type oracleRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"`
}

type oracleResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (o *HTTPOracle) Decide(ctx context.Context, image []byte, prompt string) (string, error) {
	body, err := json.Marshal(oracleRequest{
		Model:  o.model,
		Prompt: prompt,
		Image:  base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("policy: oracle request marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("policy: oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("policy: oracle call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("policy: oracle response read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("policy: oracle status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded oracleResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("policy: oracle response decode: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("policy: oracle error: %s", decoded.Error)
	}
	return decoded.Text, nil
}
