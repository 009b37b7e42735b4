package cron

import (
	"context"
	"time"
)

// Job is a batch task run by the settlement worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its cadence. A zero Every runs the job on every cycle.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry tracks registered jobs and when each last succeeded.
type Registry struct {
	entries []Entry
	lastOK  map[string]time.Time
}

func NewRegistry(entries ...Entry) *Registry {
	registry := &Registry{lastOK: map[string]time.Time{}}
	for _, entry := range entries {
		registry.Register(entry.Job, entry.Every)
	}
	return registry
}

// Register adds a job. Nil jobs are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	if every < 0 {
		every = 0
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, entry := range r.entries {
		jobs = append(jobs, entry.Job)
	}
	return jobs
}

// Due lists the jobs whose cadence has elapsed at now. Jobs that never
// succeeded are always due.
func (r *Registry) Due(now time.Time) []Job {
	var due []Job
	for _, entry := range r.entries {
		last, ok := r.lastOK[entry.Job.Name()]
		if !ok || entry.Every == 0 || !now.Before(last.Add(entry.Every)) {
			due = append(due, entry.Job)
		}
	}
	return due
}

// MarkSucceeded records a successful run so the job waits a full cadence.
func (r *Registry) MarkSucceeded(name string, at time.Time) {
	r.lastOK[name] = at
}
