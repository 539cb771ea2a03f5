package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kubently/kubently/pkg/command"
)

// Client wraps the coordinator's executor-facing REST surface: status,
// long-poll commands, and result submission (spec.md §6 "Executor API").
// Grounded in shape on wisbric-nightowl's pkg/mattermost.Client.
type Client struct {
	baseURL    string
	clusterID  string
	token      string
	httpClient *http.Client
}

// NewClient builds a coordinator API client authenticating with the
// cluster's executor token (spec.md §6 "Headers on all executor calls:
// Authorization: Bearer <cluster-token>, X-Cluster-ID: <id>").
func NewClient(baseURL, clusterID, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clusterID:  clusterID,
		token:      token,
		httpClient: httpClient,
	}
}

// StatusResponse mirrors GET /agent/status (spec.md §6).
type StatusResponse struct {
	ClusterID  string `json:"cluster_id"`
	IsActive   bool   `json:"is_active"`
	QueueDepth int64  `json:"queue_depth"`
}

// Status calls GET /agent/status to decide the stream receiver's polling
// cadence (spec.md §4.4 step 1).
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.do(ctx, http.MethodGet, "/agent/status", nil, &status); err != nil {
		return nil, fmt.Errorf("fetching agent status: %w", err)
	}
	return &status, nil
}

type resultRequest struct {
	CommandID string         `json:"command_id"`
	Result    command.Result `json:"result"`
}

// Reporter submits command results to the coordinator.
type Reporter struct {
	client *Client
}

// NewReporter builds a Reporter around a coordinator Client.
func NewReporter(c *Client) *Reporter {
	return &Reporter{client: c}
}

// Report posts a result with at most one retry on transport errors; it
// never retries on an application-level 4xx (spec.md §4.4 step 5, §7
// "Transport failure posting result — retry once, then drop").
func (r *Reporter) Report(ctx context.Context, result command.Result) error {
	body := resultRequest{CommandID: result.CommandID, Result: result}

	err := r.client.do(ctx, http.MethodPost, "/agent/results", body, nil)
	if err == nil {
		return nil
	}
	if isApplicationError(err) {
		return err
	}

	return r.client.do(ctx, http.MethodPost, "/agent/results", body, nil)
}

// applicationError wraps a non-2xx HTTP response that should not be retried.
type applicationError struct {
	status int
	body   string
}

func (e *applicationError) Error() string {
	return fmt.Sprintf("coordinator returned status %d: %s", e.status, e.body)
}

func isApplicationError(err error) bool {
	_, ok := err.(*applicationError)
	return ok
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Cluster-ID", c.clusterID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return &applicationError{status: resp.StatusCode, body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// httpTimeout is the default per-call timeout for coordinator API calls
// that are not long-poll/stream requests.
const httpTimeout = 10 * time.Second

// NewHTTPClient builds the *http.Client used for short-lived coordinator
// API calls (status, results). The stream and long-poll clients build
// their own http.Client with no/longer timeouts since those requests are
// intentionally long-lived.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}
