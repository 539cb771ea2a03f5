package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kubently/kubently/pkg/command"
)

// LongPollClient polls GET /agent/commands as the fallback delivery path
// when the SSE stream is unavailable (spec.md §4.3 "Long-poll fallback").
type LongPollClient struct {
	baseURL    string
	clusterID  string
	token      string
	httpClient *http.Client
}

// NewLongPollClient builds a LongPollClient. httpClient's timeout should
// exceed the largest wait value ever requested.
func NewLongPollClient(baseURL, clusterID, token string, httpClient *http.Client) *LongPollClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 35 * time.Second}
	}
	return &LongPollClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clusterID:  clusterID,
		token:      token,
		httpClient: httpClient,
	}
}

type longPollResponse struct {
	Commands []command.Command `json:"commands"`
}

// Poll blocks on the coordinator for up to waitSeconds, returning any
// commands delivered, or nil on a 204 timeout.
func (c *LongPollClient) Poll(ctx context.Context, waitSeconds int) ([]command.Command, error) {
	url := c.baseURL + "/agent/commands?wait=" + strconv.Itoa(waitSeconds)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating long-poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Cluster-ID", c.clusterID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("long-poll request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("long-poll returned status %d", resp.StatusCode)
	}

	var out longPollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding long-poll response: %w", err)
	}
	return out.Commands, nil
}
