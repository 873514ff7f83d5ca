// Package workflow drives one video through the seven creative stages.
//
// A Controller owns the live project model of a video. Every mutation holds
// the controller lock; generation poll loops and debounced writes run on
// their own goroutines and only touch the model through the controller.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"StoryToVideo-studio/jobs"
	"StoryToVideo-studio/models"
	"StoryToVideo-studio/persistence"
	"StoryToVideo-studio/restoration"
	"StoryToVideo-studio/validation"
)

var (
	ErrClosed          = errors.New("workflow closed")
	ErrUnknownStage    = errors.New("unknown stage")
	ErrStageNotReached = errors.New("stage has not been reached yet")
	ErrLastStage       = errors.New("already on the last stage")
	ErrNotLoaded       = errors.New("project has not been loaded")
	ErrLocked          = errors.New("settings are locked")
	ErrInvalidInput    = errors.New("invalid input")
)

// Generator is the backend side of every generation job.
type Generator interface {
	DescribeAtmosphere(ctx context.Context, videoID string, settings models.AtmosphereSettings) (string, error)
	GenerateFlowDesign(ctx context.Context, videoID string) (*models.FlowDesignSlice, error)
	GenerateContinuityGroups(ctx context.Context, videoID string) (map[string][]models.ContinuityGroup, error)
	GenerateAllPrompts(ctx context.Context, videoID string) (*models.BatchResult, error)
	GenerateAllImages(ctx context.Context, videoID string) (*models.BatchResult, error)
	GenerateAllVideos(ctx context.Context, videoID string) (*models.BatchResult, error)
	GenerateShotImage(ctx context.Context, shotID string, regenerate bool) (*models.ShotResult, error)
	GenerateShotVideo(ctx context.Context, shotID string) (*models.ShotResult, error)
	RecommendSoundEffect(ctx context.Context, shotID string) (string, error)
	GenerateSoundEffect(ctx context.Context, shotID, description string) (string, error)
	GenerateVoiceoverScript(ctx context.Context, videoID string) (string, error)
	GenerateVoiceover(ctx context.Context, videoID, script string) (string, error)
	GenerateMusic(ctx context.Context, videoID, prompt string) (string, error)
	FetchProject(ctx context.Context, videoID string) (models.Snapshots, error)
}

// MediaStore hosts uploaded media.
type MediaStore interface {
	Upload(ctx context.Context, objectName string, r io.Reader, size int64) (string, error)
}

// Rehoster is implemented by media stores that can copy generated media
// into their own bucket.
type Rehoster interface {
	Rehost(ctx context.Context, sourceURL, objectName string) (string, error)
}

// Options wires a Controller to its collaborators.
type Options struct {
	Store      persistence.Store
	Generator  Generator
	Media      MediaStore
	Interval   time.Duration
	Ceiling    time.Duration
	Debounce   time.Duration
	Dispatcher jobs.Dispatcher
	Journal    jobs.Journal
}

type Controller struct {
	VideoID string

	gen     Generator
	media   MediaStore
	gateway *persistence.Gateway
	tracker *jobs.Tracker
	history jobs.History
	engine  *restoration.Engine

	stage atomic.Int32

	mu       sync.Mutex
	project  *models.Project
	restored restoration.State
	furthest models.Stage
	loaded   bool
	closed   bool
	watchers sync.WaitGroup
}

func New(videoID string, opts Options) *Controller {
	c := &Controller{
		VideoID: videoID,
		gen:     opts.Generator,
		media:   opts.Media,
		engine:  restoration.NewEngine(),
		project: models.NewProject(videoID),
	}
	c.stage.Store(int32(models.FirstStage))
	c.furthest = models.FirstStage
	c.gateway = persistence.NewGateway(videoID, opts.Store, opts.Debounce, c.CurrentStage)
	c.tracker = jobs.NewTracker(opts.Interval, opts.Ceiling)
	if opts.Dispatcher != nil {
		c.tracker.Dispatcher = opts.Dispatcher
	}
	c.tracker.Journal = opts.Journal
	if h, ok := opts.Journal.(jobs.History); ok {
		c.history = h
	}
	return c
}

// CurrentStage is safe to call without the controller lock.
func (c *Controller) CurrentStage() models.Stage {
	return models.Stage(c.stage.Load())
}

func (c *Controller) setStage(s models.Stage) {
	c.stage.Store(int32(s))
	if s > c.furthest {
		c.furthest = s
	}
}

// Load fetches every stage snapshot and restores the live model from them.
func (c *Controller) Load(ctx context.Context) error {
	snaps, err := c.gateway.Load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	p := models.NewProject(c.VideoID)
	var st restoration.State
	if err := c.engine.Restore(p, &st, snaps); err != nil {
		return fmt.Errorf("load %s: %w", c.VideoID, err)
	}
	c.project, c.restored, c.loaded = p, st, true
	stage := snaps.CurrentStage
	if !stage.Valid() {
		stage = models.FirstStage
	}
	c.stage.Store(int32(stage))
	c.furthest = stage
	log.Printf("[Workflow] %s loaded on %s with %d scenes, %d shots", c.VideoID, stage, len(p.Scenes), p.ShotCount())
	return nil
}

// View is a read-only copy of the controller state.
type View struct {
	VideoID       string                             `json:"videoId"`
	Stage         models.Stage                       `json:"currentStep"`
	Furthest      models.Stage                       `json:"furthestStep"`
	Mode          models.TransportMode               `json:"transportMode"`
	Project       *models.Project                    `json:"project"`
	Validation    map[models.Stage]validation.Result `json:"validation"`
	TotalDuration float64                            `json:"totalDuration"`
	Timeline      []models.TimelineEntry             `json:"timeline,omitempty"`
	Jobs          []jobs.Progress                    `json:"jobs"`
	PendingWrites []string                           `json:"pendingWrites"`
}

func (c *Controller) View() View {
	c.mu.Lock()
	p := c.project.Clone()
	v := View{
		VideoID:       c.VideoID,
		Stage:         c.CurrentStage(),
		Furthest:      c.furthest,
		Mode:          p.Mode(),
		Project:       p,
		Validation:    validation.CheckAll(p),
		TotalDuration: p.TotalDuration(),
	}
	if v.Stage >= models.StageSoundscape {
		v.Timeline = p.ExpandLoops()
	}
	c.mu.Unlock()
	v.Jobs = c.tracker.List()
	v.PendingWrites = c.gateway.PendingSettings()
	return v
}

// Validate evaluates the gate of stage against the live model.
func (c *Controller) Validate(stage models.Stage) (validation.Result, error) {
	if !stage.Valid() {
		return validation.Result{}, ErrUnknownStage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return validation.Check(stage, c.project), nil
}

// Advance moves to the next stage. The current stage must pass its gate and
// be persisted first; a failure leaves the controller on the current stage
// with the model unchanged.
func (c *Controller) Advance(ctx context.Context) (models.Stage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return c.CurrentStage(), err
	}
	cur := c.CurrentStage()
	if cur >= models.LastStage {
		return cur, ErrLastStage
	}
	if err := validation.Check(cur, c.project).Err(); err != nil {
		return cur, err
	}

	switch cur {
	case models.StageComposition:
		next, err := c.gateway.ContinueToSoundscape(ctx, c.project.Slice(cur).(*models.CompositionSlice))
		if err != nil {
			return cur, err
		}
		// The returned slice is the canonical loop initialisation. It only
		// carries loops, so audio settings made on stage 5 survive.
		c.engine.InitialiseLoops(c.project, &c.restored, next)
	case models.StageSoundscape:
		if err := c.gateway.ContinueToPreview(ctx, c.project.Slice(cur).(*models.SoundscapeSlice)); err != nil {
			return cur, err
		}
	default:
		if err := c.gateway.SaveStage(ctx, c.project.Slice(cur)); err != nil {
			return cur, err
		}
	}

	switch {
	case cur == models.StageVisualWorld && len(c.project.Scenes) == 0:
		if err := c.generateFlowDesign(ctx); err != nil {
			return cur, err
		}
	case cur == models.StageFlowDesign:
		if err := c.synthesizePrompts(ctx); err != nil {
			return cur, err
		}
	}

	c.setStage(cur + 1)
	log.Printf("[Workflow] %s advanced %s -> %s", c.VideoID, cur, cur+1)
	return cur + 1, nil
}

// generateFlowDesign runs the flow design job and blocks until it is done.
// Called with c.mu held; the job never takes the lock.
func (c *Controller) generateFlowDesign(ctx context.Context) error {
	var design *models.FlowDesignSlice
	job, err := c.tracker.Submit(ctx, jobs.Spec{
		Key:     jobKey(models.JobFlowDesign, c.VideoID),
		VideoID: c.VideoID,
		Kind:    models.JobFlowDesign,
		Submit: func(ctx context.Context) (jobs.Observation, error) {
			fd, err := c.gen.GenerateFlowDesign(ctx, c.VideoID)
			design = fd
			return jobs.Observation{}, err
		},
	})
	if err != nil {
		return err
	}
	if _, err := job.Wait(ctx); err != nil {
		return err
	}
	if design == nil {
		return &jobs.GenerationError{Key: job.Key(), Err: errors.New("empty flow design")}
	}
	snaps := models.Snapshots{VideoID: c.VideoID, FlowDesign: design}
	if err := c.engine.RestoreStage(c.project, &c.restored, models.StageFlowDesign, snaps); err != nil {
		return fmt.Errorf("apply flow design: %w", err)
	}
	return nil
}

// synthesizePrompts generates prompts for every shot and merges the returned
// versions. Shots the backend rejected keep their previous state.
func (c *Controller) synthesizePrompts(ctx context.Context) error {
	var result *models.BatchResult
	job, err := c.tracker.Submit(ctx, jobs.Spec{
		Key:     jobKey(models.JobPromptSynthesis, c.VideoID),
		VideoID: c.VideoID,
		Kind:    models.JobPromptSynthesis,
		Submit: func(ctx context.Context) (jobs.Observation, error) {
			res, err := c.gen.GenerateAllPrompts(ctx, c.VideoID)
			result = res
			return jobs.Observation{}, err
		},
	})
	if err != nil {
		return err
	}
	if _, err := job.Wait(ctx); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	for id, msg := range result.FailedItems() {
		log.Printf("[Workflow] %s: prompt synthesis failed for shot %s: %s", c.VideoID, id, msg)
	}
	for i := range result.Versions {
		v := result.Versions[i]
		if err := c.project.PutVersion(&v); err != nil {
			log.Printf("[Workflow] %s: merge prompt version %s: %v", c.VideoID, v.ID, err)
		}
	}
	return nil
}

// SelectStage jumps to any stage already reached. Pending writes are flushed
// first and the model is re-synchronised with the persisted snapshots.
func (c *Controller) SelectStage(ctx context.Context, stage models.Stage) error {
	if !stage.Valid() {
		return ErrUnknownStage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if stage > c.furthest {
		return fmt.Errorf("select %s: %w", stage, ErrStageNotReached)
	}
	if err := c.gateway.FlushSettings(ctx); err != nil {
		log.Printf("[Workflow] %s: flush before leaving %s: %v", c.VideoID, c.CurrentStage(), err)
	}
	c.stage.Store(int32(stage))
	if snaps, err := c.gateway.Load(ctx); err != nil {
		log.Printf("[Workflow] %s: reload on %s failed, keeping live model: %v", c.VideoID, stage, err)
	} else if err := c.engine.Restore(c.project, &c.restored, snaps); err != nil {
		log.Printf("[Workflow] %s: restore on %s: %v", c.VideoID, stage, err)
	}
	return nil
}

// Close flushes pending writes and stops every poll loop. Jobs still polling
// are abandoned; the next Load picks up whatever the backend persisted.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.tracker.Close()
	c.watchers.Wait()
	err := c.gateway.Close(ctx)
	log.Printf("[Workflow] %s closed", c.VideoID)
	return err
}

// JobHistory lists the journaled jobs of the video, newest first. It is empty
// when no journal is configured.
func (c *Controller) JobHistory(ctx context.Context) ([]models.JobRecord, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.ListByVideo(ctx, c.VideoID)
}

// Tracker exposes the job tracker for progress streaming.
func (c *Controller) Tracker() *jobs.Tracker {
	return c.tracker
}

func (c *Controller) usable() error {
	if c.closed {
		return ErrClosed
	}
	if !c.loaded {
		return ErrNotLoaded
	}
	return nil
}

// edit runs fn on the model under the lock and, on success, schedules a
// debounced write of stage.
func (c *Controller) edit(stage models.Stage, fn func(p *models.Project) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if err := fn(c.project); err != nil {
		return err
	}
	c.touch(stage)
	return nil
}

// touch schedules a debounced write of stage. Called with c.mu held.
func (c *Controller) touch(stage models.Stage) {
	c.gateway.ScheduleSettings(c.project.Slice(stage))
}

// structureStage is the stage whose slice carries scene and shot edits.
func (c *Controller) structureStage() models.Stage {
	if c.CurrentStage() == models.StageComposition {
		return models.StageComposition
	}
	return models.StageFlowDesign
}

func jobKey(kind, id string) string {
	return kind + ":" + id
}
