package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPReasoner calls a backend that proxies the reasoning service. The
// backend answers {"classification": "<json text>"}.
type HTTPReasoner struct {
	endpoint string
	client   *http.Client
}

type classifyResponse struct {
	Classification string `json:"classification"`
}

// NewHTTPReasoner creates a reasoner posting to baseURL + /api/classify.
func NewHTTPReasoner(baseURL string, timeout time.Duration) *HTTPReasoner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReasoner{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/classify",
		client:   &http.Client{Timeout: timeout},
	}
}

// Complete implements Reasoner.
func (r *HTTPReasoner) Complete(ctx context.Context, req ReasonerRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal classify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build classify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", &NetworkError{Op: "POST " + r.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &NetworkError{
			Op:  "POST " + r.endpoint,
			Err: fmt.Errorf("classification API error: %d %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ValidationError{Err: fmt.Errorf("decode classify envelope: %w", err)}
	}
	return out.Classification, nil
}
