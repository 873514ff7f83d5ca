package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"StoryToVideo-studio/models"

	"github.com/google/uuid"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultCeiling  = 5 * time.Minute
)

// Dispatcher decides where poll loops run.
type Dispatcher interface {
	Dispatch(ctx context.Context, key string, loop func(ctx context.Context)) error
}

// GoDispatcher runs every poll loop in its own goroutine.
type GoDispatcher struct{}

func (GoDispatcher) Dispatch(ctx context.Context, key string, loop func(ctx context.Context)) error {
	go loop(ctx)
	return nil
}

// Journal mirrors job state changes somewhere durable.
type Journal interface {
	Record(ctx context.Context, rec models.JobRecord) error
}

// History is implemented by journals that can list past jobs.
type History interface {
	ListByVideo(ctx context.Context, videoID string) ([]models.JobRecord, error)
}

type Tracker struct {
	Interval   time.Duration
	Ceiling    time.Duration
	Dispatcher Dispatcher
	Journal    Journal

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewTracker(interval, ceiling time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		Interval:   interval,
		Ceiling:    ceiling,
		Dispatcher: GoDispatcher{},
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*Job),
	}
}

// Submit sends the job to the backend and starts polling for its items.
// Submitting a key whose job is still being polled returns that job and does
// nothing else.
func (t *Tracker) Submit(ctx context.Context, spec Spec) (*Job, error) {
	if spec.Key == "" {
		return nil, errors.New("jobs: empty key")
	}
	if spec.Submit == nil {
		return nil, fmt.Errorf("jobs %s: no submit function", spec.Key)
	}

	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return nil, errors.New("jobs: tracker closed")
	}
	if existing, ok := t.jobs[spec.Key]; ok && existing.active() {
		t.mu.Unlock()
		log.Printf("[Jobs] %s already in flight, ignoring resubmit", spec.Key)
		return existing, nil
	}
	job := newJob(uuid.NewString(), spec)
	t.jobs[spec.Key] = job
	t.mu.Unlock()

	t.changed(job, job.setStatus(models.JobStatusSubmitted, nil))

	obs, err := spec.Submit(ctx)
	if err != nil {
		gerr := &GenerationError{Key: spec.Key, Err: err}
		t.changed(job, job.setStatus(models.JobStatusFailed, err))
		return job, gerr
	}
	p, terminal := job.observe(obs)
	t.changed(job, p)
	if terminal {
		if p.Status == models.JobStatusFailed {
			return job, &GenerationError{Key: spec.Key, Err: errors.New(p.Error)}
		}
		return job, nil
	}
	if spec.Probe == nil {
		t.changed(job, job.setStatus(models.JobStatusFailed, errors.New("no probe for outstanding items")))
		return job, &GenerationError{Key: spec.Key, Err: errors.New("no probe for outstanding items")}
	}

	// The ceiling runs from dispatch, so a loop that is never delivered still
	// ends the job.
	deadline := time.Now().Add(t.Ceiling)
	watchdog := time.AfterFunc(t.Ceiling, func() {
		if p, ok := job.stop(); ok {
			log.Printf("[Jobs] %s reached the ceiling without a poll loop in state %s", job.Key(), p.Status)
			t.changed(job, p)
		}
	})
	loop := func(ctx context.Context) {
		defer watchdog.Stop()
		t.poll(ctx, job, deadline)
	}
	if err := t.Dispatcher.Dispatch(t.ctx, spec.Key, loop); err != nil {
		log.Printf("[Jobs] dispatch %s failed, polling in-process: %v", spec.Key, err)
		go loop(t.ctx)
	}
	return job, nil
}

// poll probes the backend every interval until the job is terminal, the
// deadline passes or the tracker is closed. The last observed state is kept.
func (t *Tracker) poll(ctx context.Context, job *Job, deadline time.Time) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if p, ok := job.stop(); ok {
				log.Printf("[Jobs] %s stopped polling in state %s (%s): %v", job.Key(), p.Status, p, ctx.Err())
				t.changed(job, p)
			}
			return
		case <-ticker.C:
			outstanding := job.outstandingIDs()
			obs, err := job.spec.Probe(ctx, outstanding)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[Jobs] %s probe failed, retrying: %v", job.Key(), err)
				}
				continue
			}
			before := len(outstanding)
			p, terminal := job.observe(obs)
			if terminal || len(p.Outstanding) != before {
				t.changed(job, p)
			}
			if terminal {
				log.Printf("[Jobs] %s %s (%s)", job.Key(), p.Status, p)
				return
			}
		}
	}
}

func (t *Tracker) changed(job *Job, p Progress) {
	if p.Terminal() {
		for id, msg := range p.Failed {
			log.Printf("[Jobs] %s item %s failed: %s", p.Key, id, msg)
		}
	}
	if t.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.Journal.Record(ctx, job.record()); err != nil {
		log.Printf("[Jobs] journal %s: %v", p.Key, err)
	}
}

func (t *Tracker) Get(key string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[key]
}

// List returns the progress of every known job ordered by key.
func (t *Tracker) List() []Progress {
	t.mu.Lock()
	jobs := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	t.mu.Unlock()
	out := make([]Progress, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Progress())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key < out[k].Key })
	return out
}

// Close stops every poll loop. Jobs keep their last observed state.
func (t *Tracker) Close() {
	t.cancel()
	t.mu.Lock()
	jobs := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	t.mu.Unlock()
	for _, j := range jobs {
		if p, ok := j.stop(); ok {
			t.changed(j, p)
		}
	}
}
