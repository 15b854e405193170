package streams

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, NewClient(server.URL, "secret-token", 5*time.Second)
}

func TestGetJob(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instances/i1/jobs/j1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id": "j1", "state": "running", "health": "healthy",
		})
	})

	job, err := client.GetJob(context.Background(), "i1", "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != "running" || job.Health != "healthy" {
		t.Errorf("job = %+v", job)
	}
}

func TestGetJobRequiresIDs(t *testing.T) {
	client := NewClient("http://localhost:9", "", time.Second)
	if _, err := client.GetJob(context.Background(), "", "j1"); err == nil {
		t.Error("expected an error for a missing instance ID")
	}
	if _, err := client.GetJob(context.Background(), "i1", ""); err == nil {
		t.Error("expected an error for a missing job ID")
	}
}

func TestGetInstanceSurfacesAPIErrors(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, err := client.GetInstance(context.Background(), "i1"); err == nil {
		t.Fatal("expected an error on HTTP 500")
	}
}

func TestStopJob(t *testing.T) {
	var method, path string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "stopping"})
	})

	if err := client.StopJob(context.Background(), "i1", "j1"); err != nil {
		t.Fatalf("StopJob: %v", err)
	}
	if method != http.MethodPost || path != "/instances/i1/jobs/j1/stop" {
		t.Errorf("request = %s %s", method, path)
	}
}

func TestCancelJob(t *testing.T) {
	var method, path string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.CancelJob(context.Background(), "i1", "j1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if method != http.MethodDelete || path != "/instances/i1/jobs/j1" {
		t.Errorf("request = %s %s", method, path)
	}
}

func TestQueryMetricsFiltersByPattern(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"metrics": []Metric{
				{Name: "nTuplesProcessed", Value: 1250},
				{Name: "nTuplesDropped", Value: 3},
				{Name: "memoryUsage", Value: 0.71},
			},
		})
	})

	values, err := client.QueryMetrics(context.Background(), "i1", "j1", []string{"tuples"})
	if err != nil {
		t.Fatalf("QueryMetrics: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d metrics, want 2: %v", len(values), values)
	}
	if values["nTuplesProcessed"] != 1250 {
		t.Errorf("nTuplesProcessed = %f", values["nTuplesProcessed"])
	}
	if _, ok := values["memoryUsage"]; ok {
		t.Error("memoryUsage must be filtered out")
	}
}

func TestQueryLogsFiltersByKeyword(t *testing.T) {
	var gotLines string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotLines = r.URL.Query().Get("lines")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"lines": []string{
				"job heartbeat ok",
				"Failover complete, takeover finished",
				"checkpoint written",
			},
		})
	})

	hits, err := client.QueryLogs(context.Background(), "i1", "j1", []string{"failover"}, 200)
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if gotLines != "200" {
		t.Errorf("lines query = %q, want 200", gotLines)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1: %v", len(hits), hits)
	}
}

func TestInjectAndRetrieveEvents(t *testing.T) {
	stored := []string{}
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var payload struct {
				Events []Event `json:"events"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			accepted := make([]string, 0, len(payload.Events))
			for _, ev := range payload.Events {
				stored = append(stored, ev.ID)
				accepted = append(accepted, ev.ID)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"accepted_ids": accepted})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"event_ids": stored})
		}
	})

	events := []Event{{ID: "e1", Sequence: 0}, {ID: "e2", Sequence: 1}}
	accepted, err := client.InjectEvents(context.Background(), "i1", "j1", events)
	if err != nil {
		t.Fatalf("InjectEvents: %v", err)
	}
	if len(accepted) != 2 {
		t.Fatalf("accepted = %v", accepted)
	}

	retrieved, err := client.RetrieveEvents(context.Background(), "i1", "j1")
	if err != nil {
		t.Fatalf("RetrieveEvents: %v", err)
	}
	if len(retrieved) != 2 || retrieved[0] != "e1" {
		t.Errorf("retrieved = %v", retrieved)
	}
}
