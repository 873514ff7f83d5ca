// Package persistence writes stage slices to a Store, either immediately or
// debounced through a Coalescer.
package persistence

import (
	"context"
	"fmt"
	"log"
	"time"

	"StoryToVideo-studio/models"
)

// Store is the persistence collaborator: the video backend or the local
// MySQL stage store.
type Store interface {
	SaveStage(ctx context.Context, videoID string, slice models.StageSlice) error
	SaveSettings(ctx context.Context, videoID string, slice models.StageSlice) error
	ContinueToSoundscape(ctx context.Context, videoID string, slice *models.CompositionSlice) (*models.SoundscapeSlice, error)
	ContinueToPreview(ctx context.Context, videoID string, slice *models.SoundscapeSlice) error
	LoadSnapshots(ctx context.Context, videoID string) (models.Snapshots, error)
}

// Error is a rejected or unreachable write.
type Error struct {
	Stage models.Stage
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultDebounce is the quiet period of settings writes.
const DefaultDebounce = 2 * time.Second

// Gateway applies the write policies for one video.
type Gateway struct {
	VideoID string
	store   Store
	writes  *Coalescer
	// stage reports the stage the workflow is on right now.
	stage func() models.Stage
}

func NewGateway(videoID string, store Store, debounce time.Duration, currentStage func() models.Stage) *Gateway {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Gateway{
		VideoID: videoID,
		store:   store,
		writes:  NewCoalescer(debounce),
		stage:   currentStage,
	}
}

func settingsTarget(stage models.Stage) string {
	return fmt.Sprintf("step%d-settings", int(stage))
}

// SaveStage writes slice immediately. A pending debounced write for the same
// stage is dropped since slice supersedes it.
func (g *Gateway) SaveStage(ctx context.Context, slice models.StageSlice) error {
	stage := slice.SliceStage()
	g.writes.Cancel(settingsTarget(stage))
	if err := g.store.SaveStage(ctx, g.VideoID, slice); err != nil {
		return &Error{Stage: stage, Op: "save", Err: err}
	}
	return nil
}

// ContinueToSoundscape finalises composition and returns the stage 5 slice
// initialised by the store.
func (g *Gateway) ContinueToSoundscape(ctx context.Context, slice *models.CompositionSlice) (*models.SoundscapeSlice, error) {
	g.writes.Cancel(settingsTarget(models.StageComposition))
	next, err := g.store.ContinueToSoundscape(ctx, g.VideoID, slice)
	if err != nil {
		return nil, &Error{Stage: models.StageComposition, Op: "continue", Err: err}
	}
	return next, nil
}

func (g *Gateway) ContinueToPreview(ctx context.Context, slice *models.SoundscapeSlice) error {
	g.writes.Cancel(settingsTarget(models.StageSoundscape))
	if err := g.store.ContinueToPreview(ctx, g.VideoID, slice); err != nil {
		return &Error{Stage: models.StageSoundscape, Op: "continue", Err: err}
	}
	return nil
}

func (g *Gateway) Load(ctx context.Context) (models.Snapshots, error) {
	snaps, err := g.store.LoadSnapshots(ctx, g.VideoID)
	if err != nil {
		return models.Snapshots{}, &Error{Op: "load", Err: err}
	}
	return snaps, nil
}

// ScheduleSettings debounces a settings write. Soundscape settings are only
// written while the workflow is on the soundscape stage, checked both now and
// when the write fires. It reports whether the write was scheduled.
func (g *Gateway) ScheduleSettings(slice models.StageSlice) bool {
	stage := slice.SliceStage()
	if !g.allowed(stage) {
		log.Printf("[Persist] %s: dropping %s settings write while on %s", g.VideoID, stage, g.stage())
		return false
	}
	err := g.writes.Schedule(settingsTarget(stage), func(ctx context.Context) error {
		if !g.allowed(stage) {
			log.Printf("[Persist] %s: suppressed %s settings write, workflow moved to %s", g.VideoID, stage, g.stage())
			return nil
		}
		if err := g.store.SaveSettings(ctx, g.VideoID, slice); err != nil {
			return &Error{Stage: stage, Op: "settings", Err: err}
		}
		return nil
	})
	if err != nil {
		log.Printf("[Persist] %s: schedule %s settings: %v", g.VideoID, stage, err)
		return false
	}
	return true
}

// SaveSettingsNow writes a settings slice immediately, replacing any pending
// debounced write for the same stage. Used for lock actions.
func (g *Gateway) SaveSettingsNow(ctx context.Context, slice models.StageSlice) error {
	stage := slice.SliceStage()
	g.writes.Cancel(settingsTarget(stage))
	if err := g.store.SaveSettings(ctx, g.VideoID, slice); err != nil {
		return &Error{Stage: stage, Op: "settings", Err: err}
	}
	return nil
}

func (g *Gateway) allowed(stage models.Stage) bool {
	return stage != models.StageSoundscape || g.stage() == models.StageSoundscape
}

// FlushSettings writes every pending settings change now.
func (g *Gateway) FlushSettings(ctx context.Context) error {
	return g.writes.FlushAll(ctx)
}

// FlushStage writes the pending settings change of stage now, if any.
func (g *Gateway) FlushStage(ctx context.Context, stage models.Stage) error {
	return g.writes.Flush(ctx, settingsTarget(stage))
}

// HasPending reports whether a settings write of stage is armed.
func (g *Gateway) HasPending(stage models.Stage) bool {
	target := settingsTarget(stage)
	for _, t := range g.writes.Pending() {
		if t == target {
			return true
		}
	}
	return false
}

// PendingSettings lists the targets with a debounced write armed.
func (g *Gateway) PendingSettings() []string {
	return g.writes.Pending()
}

// Close flushes pending writes and stops accepting new ones.
func (g *Gateway) Close(ctx context.Context) error {
	return g.writes.Close(ctx)
}
