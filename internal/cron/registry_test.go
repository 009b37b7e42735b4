package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresJobs(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register(jobA, time.Hour)
	registry.Register(nil, time.Hour)
	registry.Register(jobB, 0)
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryDueHonoursCadence(t *testing.T) {
	now := time.Date(2026, 5, 27, 6, 0, 0, 0, time.UTC)
	daily := &stubJob{name: "daily"}
	always := &stubJob{name: "always"}
	registry := NewRegistry(Entry{Job: daily, Every: 24 * time.Hour}, Entry{Job: always})

	if due := registry.Due(now); len(due) != 2 {
		t.Fatalf("expected both jobs due before any run, got %d", len(due))
	}
	registry.MarkSucceeded("daily", now)
	registry.MarkSucceeded("always", now)

	due := registry.Due(now.Add(23 * time.Hour))
	if len(due) != 1 || due[0] != always {
		t.Fatalf("expected only the every-cycle job, got %v", due)
	}
	due = registry.Due(now.Add(24 * time.Hour))
	if len(due) != 2 {
		t.Fatalf("expected daily job due after 24h, got %d", len(due))
	}
}
