// mock-streams is a local stand-in for a dual-datacenter Streams management
// API. It serves both sites from one process: instance "dc1-i1" plays the
// primary and "dc2-i1" the secondary. Stopping or cancelling the primary job
// flips the secondary to running/healthy and mirrors most injected events
// over, so a full test run can be exercised without real clusters.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type jobState struct {
	State  string
	Health string
}

type site struct {
	instanceID string
	jobID      string
	job        jobState
	events     []string
}

type cluster struct {
	mu        sync.Mutex
	primary   site
	secondary site
	lossCount int
}

func newCluster(lossCount int) *cluster {
	return &cluster{
		primary: site{
			instanceID: "dc1-i1",
			jobID:      "job-1",
			job:        jobState{State: "running", Health: "healthy"},
		},
		secondary: site{
			instanceID: "dc2-i1",
			jobID:      "job-1",
			job:        jobState{State: "standby", Health: "healthy"},
		},
		lossCount: lossCount,
	}
}

func (c *cluster) siteFor(instanceID string) *site {
	switch instanceID {
	case c.primary.instanceID:
		return &c.primary
	case c.secondary.instanceID:
		return &c.secondary
	}
	return nil
}

// failover marks the primary stopped and promotes the secondary, dropping
// the last lossCount events to emulate in-flight loss.
func (c *cluster) failover(state string) {
	c.primary.job = jobState{State: state, Health: "unhealthy"}
	c.secondary.job = jobState{State: "running", Health: "healthy"}
	mirrored := c.primary.events
	if c.lossCount > 0 && len(mirrored) > c.lossCount {
		mirrored = mirrored[:len(mirrored)-c.lossCount]
	}
	c.secondary.events = append([]string(nil), mirrored...)
}

func main() {
	var (
		addr      string
		lossCount int
	)
	flag.StringVar(&addr, "addr", ":8080", "Listen address")
	flag.IntVar(&lossCount, "loss", 0, "Events to drop during simulated failover")
	flag.Parse()

	c := newCluster(lossCount)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /instances/{instance}", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s := c.siteFor(r.PathValue("instance"))
		if s == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"id": s.instanceID, "status": "running"})
	})

	mux.HandleFunc("GET /instances/{instance}/jobs/{job}", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s := c.siteFor(r.PathValue("instance"))
		if s == nil || s.jobID != r.PathValue("job") {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"id": s.jobID, "state": s.job.State, "health": s.job.Health})
	})

	mux.HandleFunc("POST /instances/{instance}/jobs/{job}/stop", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.siteFor(r.PathValue("instance")) != &c.primary {
			http.NotFound(w, r)
			return
		}
		c.failover("stopped")
		writeJSON(w, map[string]any{"id": c.primary.jobID, "state": "stopped"})
	})

	mux.HandleFunc("DELETE /instances/{instance}/jobs/{job}", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.siteFor(r.PathValue("instance")) != &c.primary {
			http.NotFound(w, r)
			return
		}
		c.failover("canceled")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /instances/{instance}/jobs/{job}/metrics", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s := c.siteFor(r.PathValue("instance"))
		if s == nil {
			http.NotFound(w, r)
			return
		}
		rate := 0.0
		if s.job.State == "running" {
			rate = 1250.0
		}
		writeJSON(w, map[string]any{
			"metrics": []map[string]any{
				{"name": "nTuplesProcessed", "value": rate},
				{"name": "nConnections", "value": 4.0},
			},
		})
	})

	mux.HandleFunc("GET /instances/{instance}/jobs/{job}/logs", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s := c.siteFor(r.PathValue("instance"))
		if s == nil {
			http.NotFound(w, r)
			return
		}
		lines := []string{"job heartbeat ok"}
		if s == &c.secondary && s.job.State == "running" {
			lines = append(lines, "failover complete, takeover from dc1 finished")
		}
		writeJSON(w, map[string]any{"lines": lines})
	})

	mux.HandleFunc("POST /instances/{instance}/jobs/{job}/data/inject", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s := c.siteFor(r.PathValue("instance"))
		if s == nil {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Events []struct {
				ID string `json:"event_id"`
			} `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted := make([]string, 0, len(payload.Events))
		for _, ev := range payload.Events {
			s.events = append(s.events, ev.ID)
			accepted = append(accepted, ev.ID)
		}
		writeJSON(w, map[string]any{"accepted_ids": accepted})
	})

	mux.HandleFunc("GET /instances/{instance}/jobs/{job}/data/retrieve", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s := c.siteFor(r.PathValue("instance"))
		if s == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"event_ids": s.events})
	})

	logger := log.New(log.Writer(), "streams-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    addr,
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on " + addr + " (simulated loss: " + strconv.Itoa(lossCount) + " events)")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
