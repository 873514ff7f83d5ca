// Package jobs tracks asynchronous generation jobs on the video backend.
//
// A job moves idle -> submitted -> polling -> completed|failed. Batch jobs
// keep the set of item ids whose artifacts have not appeared yet, so callers
// get incremental progress while the rest of the batch is still running.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"StoryToVideo-studio/models"
)

// ErrStopped is returned by Wait when the poll loop ended (ceiling reached or
// tracker closed) before the job reached a terminal state.
var ErrStopped = errors.New("poll loop stopped before the job finished")

// GenerationError is a failure reported by the backend for a job or one of
// its items.
type GenerationError struct {
	Key    string
	ItemID string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("generation %s item %s: %v", e.Key, e.ItemID, e.Err)
	}
	return fmt.Sprintf("generation %s: %v", e.Key, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Observation is what one submit or poll round learned from the backend.
type Observation struct {
	// Ready lists item ids whose artifact has appeared.
	Ready []string
	// Failed maps item ids to the backend's failure message.
	Failed map[string]string
	// Fatal fails the whole job.
	Fatal error
}

// Spec describes a job to Tracker.Submit.
type Spec struct {
	// Key guards against duplicate submissions, e.g. "batch-image:<video>".
	Key     string
	VideoID string
	Kind    string
	// Items are the ids the job produces artifacts for. A job with no items
	// is complete as soon as submission succeeds.
	Items  []string
	Submit func(ctx context.Context) (Observation, error)
	// Probe is called once per poll interval with the ids still outstanding.
	Probe func(ctx context.Context, outstanding []string) (Observation, error)
}

// Progress is a point-in-time view of a job. Ready and Failed are cumulative.
type Progress struct {
	JobID       string            `json:"jobId"`
	Key         string            `json:"key"`
	VideoID     string            `json:"videoId"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	Total       int               `json:"total"`
	Completed   int               `json:"completed"`
	Outstanding []string          `json:"outstanding"`
	Ready       []string          `json:"ready,omitempty"`
	Failed      map[string]string `json:"failed,omitempty"`
	Error       string            `json:"error,omitempty"`
	Stopped     bool              `json:"stopped"`
	Label       string            `json:"label"`
}

// String renders progress for display, e.g. "3 of 5".
func (p Progress) String() string {
	return fmt.Sprintf("%d of %d", p.Completed, p.Total)
}

// Terminal reports whether the job completed or failed.
func (p Progress) Terminal() bool {
	return p.Status == models.JobStatusCompleted || p.Status == models.JobStatusFailed
}

type Job struct {
	ID   string
	spec Spec

	mu          sync.Mutex
	status      string
	outstanding []string
	ready       []string
	failed      map[string]string
	errMsg      string
	stopped     bool
	startedAt   time.Time
	finishedAt  *time.Time
	subs        map[int]chan Progress
	nextSub     int

	done     chan struct{}
	doneOnce sync.Once
}

func newJob(id string, spec Spec) *Job {
	return &Job{
		ID:          id,
		spec:        spec,
		status:      models.JobStatusIdle,
		outstanding: append([]string(nil), spec.Items...),
		failed:      make(map[string]string),
		subs:        make(map[int]chan Progress),
		done:        make(chan struct{}),
	}
}

func (j *Job) Key() string { return j.spec.Key }

// Done is closed when the job is terminal or its poll loop stopped.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progressLocked()
}

// Subscribe returns a channel that always holds the newest progress. The
// current progress is delivered immediately; the channel is closed once the
// job is done. Call cancel to stop receiving earlier.
func (j *Job) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 1)
	j.mu.Lock()
	defer j.mu.Unlock()
	ch <- j.progressLocked()
	if j.isDone() {
		close(ch)
		return ch, func() {}
	}
	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch
	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if c, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(c)
		}
	}
}

// Wait blocks until the job is done. A job whose items partly failed still
// completes; inspect Progress.Failed for the individual failures.
func (j *Job) Wait(ctx context.Context) (Progress, error) {
	select {
	case <-ctx.Done():
		return j.Progress(), ctx.Err()
	case <-j.done:
	}
	p := j.Progress()
	switch {
	case p.Status == models.JobStatusFailed:
		return p, &GenerationError{Key: p.Key, Err: errors.New(p.Error)}
	case !p.Terminal():
		return p, ErrStopped
	}
	return p, nil
}

// active reports whether a poll loop still owns the job.
func (j *Job) active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.isDone()
}

func (j *Job) isDone() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (j *Job) outstandingIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.outstanding...)
}

// setStatus moves the job to status and publishes the change.
func (j *Job) setStatus(status string, err error) Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isDone() {
		return j.progressLocked()
	}
	j.status = status
	if status == models.JobStatusSubmitted {
		j.startedAt = time.Now()
	}
	if err != nil {
		j.errMsg = err.Error()
	}
	if status == models.JobStatusFailed || status == models.JobStatusCompleted {
		j.finishLocked()
	}
	return j.publishLocked()
}

// observe merges an observation. It returns the new progress and whether the
// job became terminal.
func (j *Job) observe(obs Observation) (Progress, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isDone() {
		return j.progressLocked(), true
	}
	for _, id := range obs.Ready {
		if j.removeOutstanding(id) {
			j.ready = append(j.ready, id)
		}
	}
	for id, msg := range obs.Failed {
		if j.removeOutstanding(id) {
			j.failed[id] = msg
		}
	}
	switch {
	case obs.Fatal != nil:
		j.status = models.JobStatusFailed
		j.errMsg = obs.Fatal.Error()
	case len(j.outstanding) == 0:
		if len(j.ready) == 0 && len(j.failed) > 0 {
			j.status = models.JobStatusFailed
			j.errMsg = "every item failed"
		} else {
			j.status = models.JobStatusCompleted
		}
	default:
		j.status = models.JobStatusPolling
	}
	terminal := j.status == models.JobStatusCompleted || j.status == models.JobStatusFailed
	if terminal {
		j.finishLocked()
	}
	return j.publishLocked(), terminal
}

// stop ends tracking without changing the last observed status.
func (j *Job) stop() (Progress, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isDone() {
		return j.progressLocked(), false
	}
	j.stopped = true
	p := j.publishLocked()
	j.closeLocked()
	return p, true
}

func (j *Job) removeOutstanding(id string) bool {
	for i, o := range j.outstanding {
		if o == id {
			j.outstanding = append(j.outstanding[:i], j.outstanding[i+1:]...)
			return true
		}
	}
	return false
}

func (j *Job) finishLocked() {
	now := time.Now()
	j.finishedAt = &now
	j.publishLocked()
	j.closeLocked()
}

func (j *Job) closeLocked() {
	for id, ch := range j.subs {
		delete(j.subs, id)
		close(ch)
	}
	j.doneOnce.Do(func() { close(j.done) })
}

func (j *Job) publishLocked() Progress {
	p := j.progressLocked()
	for _, ch := range j.subs {
		select {
		case <-ch:
		default:
		}
		ch <- p
	}
	return p
}

func (j *Job) progressLocked() Progress {
	p := Progress{
		JobID:       j.ID,
		Key:         j.spec.Key,
		VideoID:     j.spec.VideoID,
		Kind:        j.spec.Kind,
		Status:      j.status,
		Total:       len(j.spec.Items),
		Completed:   len(j.ready),
		Outstanding: append([]string{}, j.outstanding...),
		Ready:       append([]string(nil), j.ready...),
		Error:       j.errMsg,
		Stopped:     j.stopped,
	}
	if len(j.failed) > 0 {
		p.Failed = make(map[string]string, len(j.failed))
		for k, v := range j.failed {
			p.Failed[k] = v
		}
	}
	p.Label = p.String()
	return p
}

func (j *Job) record() models.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := models.JobRecord{
		ID:         j.ID,
		Key:        j.spec.Key,
		VideoID:    j.spec.VideoID,
		Kind:       j.spec.Kind,
		Status:     j.status,
		Total:      len(j.spec.Items),
		Completed:  len(j.ready),
		Error:      j.errMsg,
		FinishedAt: j.finishedAt,
	}
	if !j.startedAt.IsZero() {
		started := j.startedAt
		rec.StartedAt = &started
	}
	rec.SetOutstanding(j.outstanding)
	rec.SetFailedItems(j.failed)
	return rec
}
