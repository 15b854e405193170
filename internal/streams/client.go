package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Instance is the management API's view of a processing instance.
type Instance struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Job is the management API's view of a streaming job.
type Job struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Health string `json:"health"`
}

// Metric is one named sample exported by a job.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Client wraps one datacenter's lifecycle-management REST API. Transient
// transport retry lives below this layer; callers treat any returned error
// as "datacenter unreachable".
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient constructs a client for one datacenter's API endpoint.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetInstance fetches the state of a processing instance.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (Instance, error) {
	var out Instance
	if instanceID == "" {
		return out, fmt.Errorf("instance ID is required")
	}
	err := c.getJSON(ctx, c.resolvePath("instances", instanceID), nil, &out)
	if err != nil {
		return Instance{}, fmt.Errorf("get instance %s: %w", instanceID, err)
	}
	return out, nil
}

// GetJob fetches the state and health of a job.
func (c *Client) GetJob(ctx context.Context, instanceID, jobID string) (Job, error) {
	var out Job
	if instanceID == "" || jobID == "" {
		return out, fmt.Errorf("instance and job IDs are required")
	}
	err := c.getJSON(ctx, c.resolvePath("instances", instanceID, "jobs", jobID), nil, &out)
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return out, nil
}

// StopJob requests a graceful stop of a job.
func (c *Client) StopJob(ctx context.Context, instanceID, jobID string) error {
	endpoint := c.resolvePath("instances", instanceID, "jobs", jobID, "stop")
	if err := c.postJSON(ctx, endpoint, map[string]any{}, nil); err != nil {
		return fmt.Errorf("stop job %s: %w", jobID, err)
	}
	return nil
}

// CancelJob forcibly cancels a job.
func (c *Client) CancelJob(ctx context.Context, instanceID, jobID string) error {
	endpoint := c.resolvePath("instances", instanceID, "jobs", jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("cancel job %s: API returned %s", jobID, resp.Status)
	}
	return nil
}

// QueryMetrics fetches job metrics and filters them down to names matching
// any of the provided substring patterns. An empty result is valid.
func (c *Client) QueryMetrics(ctx context.Context, instanceID, jobID string, namePatterns []string) (map[string]float64, error) {
	var response struct {
		Metrics []Metric `json:"metrics"`
	}
	endpoint := c.resolvePath("instances", instanceID, "jobs", jobID, "metrics")
	if err := c.getJSON(ctx, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("query metrics for job %s: %w", jobID, err)
	}

	out := make(map[string]float64)
	for _, m := range response.Metrics {
		if len(namePatterns) == 0 || matchesAny(m.Name, namePatterns) {
			out[m.Name] = m.Value
		}
	}
	return out, nil
}

// QueryLogs fetches recent log lines and keeps those containing any of the
// keyword patterns. Best-effort evidence only; an empty result is valid.
func (c *Client) QueryLogs(ctx context.Context, instanceID, jobID string, keywordPatterns []string, maxLines int) ([]string, error) {
	var response struct {
		Lines []string `json:"lines"`
	}
	query := url.Values{}
	if maxLines > 0 {
		query.Set("lines", strconv.Itoa(maxLines))
	}
	endpoint := c.resolvePath("instances", instanceID, "jobs", jobID, "logs")
	if err := c.getJSON(ctx, endpoint, query, &response); err != nil {
		return nil, fmt.Errorf("query logs for job %s: %w", jobID, err)
	}

	if len(keywordPatterns) == 0 {
		return response.Lines, nil
	}
	hits := make([]string, 0)
	for _, line := range response.Lines {
		if matchesAny(line, keywordPatterns) {
			hits = append(hits, line)
		}
	}
	return hits, nil
}

func matchesAny(s string, patterns []string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (c *Client) resolvePath(parts ...string) string {
	cleaned := "/" + path.Join(parts...)
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) setHeaders(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
