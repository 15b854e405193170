package streams

import (
	"context"
	"fmt"
)

// Event is one record injected through the data-exchange endpoint.
type Event struct {
	ID        string  `json:"event_id"`
	Sequence  int     `json:"sequence"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// InjectEvents sends a batch of events into a job's ingest endpoint and
// returns the identifiers the service acknowledged.
func (c *Client) InjectEvents(ctx context.Context, instanceID, jobID string, events []Event) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}
	var response struct {
		AcceptedIDs []string `json:"accepted_ids"`
	}
	endpoint := c.resolvePath("instances", instanceID, "jobs", jobID, "data", "inject")
	payload := map[string]any{"events": events}
	if err := c.postJSON(ctx, endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("inject %d events into job %s: %w", len(events), jobID, err)
	}
	return response.AcceptedIDs, nil
}

// RetrieveEvents fetches the identifiers of all events the job has emitted
// since the run began. Duplicates are preserved in order so the caller can
// detect re-delivery.
func (c *Client) RetrieveEvents(ctx context.Context, instanceID, jobID string) ([]string, error) {
	var response struct {
		EventIDs []string `json:"event_ids"`
	}
	endpoint := c.resolvePath("instances", instanceID, "jobs", jobID, "data", "retrieve")
	if err := c.getJSON(ctx, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("retrieve events from job %s: %w", jobID, err)
	}
	return response.EventIDs, nil
}
