package models

import "testing"

func TestDatacenterHealthHealthy(t *testing.T) {
	cases := []struct {
		name   string
		health DatacenterHealth
		want   bool
	}{
		{
			name:   "running and healthy",
			health: DatacenterHealth{Reachable: true, JobState: "running", JobHealth: "healthy"},
			want:   true,
		},
		{
			name:   "case insensitive states",
			health: DatacenterHealth{Reachable: true, JobState: "Running", JobHealth: "HEALTHY"},
			want:   true,
		},
		{
			name:   "unreachable",
			health: DatacenterHealth{Reachable: false, JobState: "running", JobHealth: "healthy"},
			want:   false,
		},
		{
			name:   "stopped job",
			health: DatacenterHealth{Reachable: true, JobState: "stopped", JobHealth: "healthy"},
			want:   false,
		},
		{
			name:   "degraded job",
			health: DatacenterHealth{Reachable: true, JobState: "running", JobHealth: "degraded"},
			want:   false,
		},
		{
			name:   "zero value",
			health: DatacenterHealth{},
			want:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.health.Healthy(); got != tc.want {
				t.Errorf("Healthy() = %v, want %v", got, tc.want)
			}
		})
	}
}
