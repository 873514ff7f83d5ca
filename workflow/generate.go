package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"StoryToVideo-studio/jobs"
	"StoryToVideo-studio/models"

	"github.com/google/uuid"
)

var ErrNoMediaStore = errors.New("no media store configured")

const refreshTimeout = 30 * time.Second

// Item ids of the project-level audio jobs.
const (
	itemVoiceover = "voiceover"
	itemMusic     = "music"
)

func (c *Controller) checkUsable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usable()
}

func isVideoJob(kind string) bool {
	return kind == models.JobSingleVideo || kind == models.JobBatchVideo
}

// artifactReady reports whether v carries what a job of kind produces.
func artifactReady(kind string, v *models.ShotVersion, mode models.TransportMode) bool {
	if v == nil {
		return false
	}
	if isVideoJob(kind) {
		return v.VideoURL != ""
	}
	return v.HasMedia(mode)
}

// observeShots reports which of shotIDs have their artifact. Called with c.mu held.
func (c *Controller) observeShots(kind string, shotIDs []string) jobs.Observation {
	obs := jobs.Observation{Failed: make(map[string]string)}
	mode := c.project.Mode()
	for _, id := range shotIDs {
		if sh, _ := c.project.FindShot(id); sh == nil {
			obs.Failed[id] = "shot was deleted"
			continue
		}
		v := c.project.CurrentVersion(id)
		switch {
		case artifactReady(kind, v, mode):
			obs.Ready = append(obs.Ready, id)
		case v != nil && v.Status == models.VersionStatusFailed:
			obs.Failed[id] = "generation failed"
		}
	}
	return obs
}

// mergeShotResult stores the versions returned by single-shot generation.
// Called with c.mu held.
func (c *Controller) mergeShotResult(shotID string, res *models.ShotResult) {
	if res == nil {
		return
	}
	v := res.Version
	if v.ShotID == "" {
		v.ShotID = shotID
	}
	if err := c.project.PutVersion(&v); err != nil {
		log.Printf("[Workflow] %s: merge version %s: %v", c.VideoID, v.ID, err)
	}
	if res.NextVersion != nil {
		next := *res.NextVersion
		if err := c.project.PutVersion(&next); err != nil {
			log.Printf("[Workflow] %s: merge next version %s: %v", c.VideoID, next.ID, err)
		}
	}
	c.project.ApplyContinuity()
}

// mergeShotVersions copies the backend's versions of shotIDs into the live
// model. Only the listed shots are touched. Called with c.mu held.
func (c *Controller) mergeShotVersions(snaps models.Snapshots, shotIDs []string) {
	comp := snaps.Composition
	if comp == nil {
		return
	}
	pointers := make(map[string]string)
	for _, list := range comp.Shots {
		for _, sh := range list {
			pointers[sh.ID] = sh.CurrentVersionID
		}
	}
	for _, id := range shotIDs {
		if sh, _ := c.project.FindShot(id); sh == nil {
			continue
		}
		for _, v := range comp.Versions[id] {
			v := v
			v.ShotID = id
			if err := c.project.PutVersion(&v); err != nil {
				log.Printf("[Workflow] %s: merge polled version %s: %v", c.VideoID, v.ID, err)
			}
		}
		if ptr := pointers[id]; ptr != "" {
			if err := c.project.SetCurrentVersion(id, ptr); err != nil {
				log.Printf("[Workflow] %s: polled pointer of shot %s: %v", c.VideoID, id, err)
			}
		}
	}
	c.project.ApplyContinuity()
}

func (c *Controller) probeShots(kind string) func(ctx context.Context, outstanding []string) (jobs.Observation, error) {
	return func(ctx context.Context, outstanding []string) (jobs.Observation, error) {
		snaps, err := c.gen.FetchProject(ctx, c.VideoID)
		if err != nil {
			return jobs.Observation{}, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return jobs.Observation{}, ErrClosed
		}
		c.mergeShotVersions(snaps, outstanding)
		return c.observeShots(kind, outstanding), nil
	}
}

func (c *Controller) shotJob(ctx context.Context, kind, shotID string, submit func(ctx context.Context) (*models.ShotResult, error)) (*jobs.Job, error) {
	c.mu.Lock()
	if err := c.usable(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if sh, _ := c.project.FindShot(shotID); sh == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("shot %s: %w", shotID, models.ErrNotFound)
	}
	c.mu.Unlock()

	return c.tracker.Submit(ctx, jobs.Spec{
		Key:     jobKey(kind, shotID),
		VideoID: c.VideoID,
		Kind:    kind,
		Items:   []string{shotID},
		Submit: func(ctx context.Context) (jobs.Observation, error) {
			res, err := submit(ctx)
			if err != nil {
				return jobs.Observation{}, err
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			c.mergeShotResult(shotID, res)
			return c.observeShots(kind, []string{shotID}), nil
		},
		Probe: c.probeShots(kind),
	})
}

// GenerateShotImage generates the still media of one shot. With regenerate a
// new version is created instead of filling the current one.
func (c *Controller) GenerateShotImage(ctx context.Context, shotID string, regenerate bool) (*jobs.Job, error) {
	return c.shotJob(ctx, models.JobSingleImage, shotID, func(ctx context.Context) (*models.ShotResult, error) {
		return c.gen.GenerateShotImage(ctx, shotID, regenerate)
	})
}

func (c *Controller) GenerateShotVideo(ctx context.Context, shotID string) (*jobs.Job, error) {
	return c.shotJob(ctx, models.JobSingleVideo, shotID, func(ctx context.Context) (*models.ShotResult, error) {
		return c.gen.GenerateShotVideo(ctx, shotID)
	})
}

func (c *Controller) batchJob(ctx context.Context, kind string, submit func(ctx context.Context, videoID string) (*models.BatchResult, error)) (*jobs.Job, error) {
	c.mu.Lock()
	if err := c.usable(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	mode := c.project.Mode()
	var items []string
	for _, sh := range c.project.OrderedShots() {
		if !artifactReady(kind, c.project.CurrentVersion(sh.ID), mode) {
			items = append(items, sh.ID)
		}
	}
	c.mu.Unlock()

	job, err := c.tracker.Submit(ctx, jobs.Spec{
		Key:     jobKey(kind, c.VideoID),
		VideoID: c.VideoID,
		Kind:    kind,
		Items:   items,
		Submit: func(ctx context.Context) (jobs.Observation, error) {
			res, err := submit(ctx, c.VideoID)
			if err != nil {
				return jobs.Observation{}, err
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			obs := c.observeShots(kind, items)
			for id, msg := range res.FailedItems() {
				obs.Failed[id] = msg
			}
			return obs, nil
		},
		Probe: c.probeShots(kind),
	})
	if job != nil {
		c.refreshWhenDone(job)
	}
	return job, err
}

func (c *Controller) GenerateAllImages(ctx context.Context) (*jobs.Job, error) {
	return c.batchJob(ctx, models.JobBatchImage, c.gen.GenerateAllImages)
}

func (c *Controller) GenerateAllVideos(ctx context.Context) (*jobs.Job, error) {
	return c.batchJob(ctx, models.JobBatchVideo, c.gen.GenerateAllVideos)
}

// refreshWhenDone reloads composition from the backend once a batch job ends.
func (c *Controller) refreshWhenDone(job *jobs.Job) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.watchers.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.watchers.Done()
		<-job.Done()
		if job.Progress().Stopped {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := c.refreshComposition(ctx); err != nil {
			log.Printf("[Workflow] %s: refresh after %s: %v", c.VideoID, job.Key(), err)
		}
	}()
}

// refreshComposition replaces the composition stage with the backend's copy.
// Pending composition edits are written first so the copy includes them.
func (c *Controller) refreshComposition(ctx context.Context) error {
	if err := c.gateway.FlushStage(ctx, models.StageComposition); err != nil {
		return fmt.Errorf("flush composition: %w", err)
	}
	snaps, err := c.gen.FetchProject(ctx, c.VideoID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || snaps.Composition == nil {
		return nil
	}
	if c.gateway.HasPending(models.StageComposition) {
		log.Printf("[Workflow] %s: composition edited during refresh, keeping live model", c.VideoID)
		return nil
	}
	return c.engine.RestoreStage(c.project, &c.restored, models.StageComposition, snaps)
}

// RecommendSoundEffect stores the backend's suggestion as the shot's sound
// effect description.
func (c *Controller) RecommendSoundEffect(ctx context.Context, shotID string) (string, error) {
	if err := c.checkUsable(); err != nil {
		return "", err
	}
	desc, err := c.gen.RecommendSoundEffect(ctx, shotID)
	if err != nil {
		return "", fmt.Errorf("recommend sound effect: %w", err)
	}
	return desc, c.SetSoundEffectDescription(shotID, desc)
}

// audioJob runs a single-item audio generation. submit returns the artifact
// URL when the backend produced it synchronously; otherwise fromSnapshot is
// polled until the URL appears.
func (c *Controller) audioJob(ctx context.Context, kind, key, item string,
	submit func(ctx context.Context) (string, error),
	fromSnapshot func(models.Snapshots) string,
	apply func(p *models.Project, url string)) (*jobs.Job, error) {

	if err := c.checkUsable(); err != nil {
		return nil, err
	}
	store := func(url string) jobs.Observation {
		if url == "" {
			return jobs.Observation{}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		apply(c.project, url)
		c.touch(models.StageSoundscape)
		return jobs.Observation{Ready: []string{item}}
	}
	return c.tracker.Submit(ctx, jobs.Spec{
		Key:     key,
		VideoID: c.VideoID,
		Kind:    kind,
		Items:   []string{item},
		Submit: func(ctx context.Context) (jobs.Observation, error) {
			url, err := submit(ctx)
			if err != nil {
				return jobs.Observation{}, err
			}
			return store(url), nil
		},
		Probe: func(ctx context.Context, outstanding []string) (jobs.Observation, error) {
			snaps, err := c.gen.FetchProject(ctx, c.VideoID)
			if err != nil {
				return jobs.Observation{}, err
			}
			return store(fromSnapshot(snaps)), nil
		},
	})
}

func (c *Controller) GenerateSoundEffect(ctx context.Context, shotID string) (*jobs.Job, error) {
	c.mu.Lock()
	sh, _ := c.project.FindShot(shotID)
	var desc string
	if sh != nil {
		desc = sh.SoundEffectDescription
	}
	c.mu.Unlock()
	if sh == nil {
		return nil, fmt.Errorf("shot %s: %w", shotID, models.ErrNotFound)
	}
	return c.audioJob(ctx, models.JobSoundEffect, jobKey(models.JobSoundEffect, shotID), shotID,
		func(ctx context.Context) (string, error) { return c.gen.GenerateSoundEffect(ctx, shotID, desc) },
		func(s models.Snapshots) string {
			if s.Soundscape == nil {
				return ""
			}
			for _, list := range s.Soundscape.ShotsWithLoops {
				for _, sh := range list {
					if sh.ID == shotID {
						return sh.SoundEffectURL
					}
				}
			}
			return ""
		},
		func(p *models.Project, url string) {
			if sh, _ := p.FindShot(shotID); sh != nil {
				sh.SoundEffectURL = url
			}
		})
}

// GenerateVoiceoverScript drafts the narration and stores it in the
// soundscape settings.
func (c *Controller) GenerateVoiceoverScript(ctx context.Context) (string, error) {
	if err := c.checkUsable(); err != nil {
		return "", err
	}
	var script string
	job, err := c.tracker.Submit(ctx, jobs.Spec{
		Key:     jobKey(models.JobVoiceoverScript, c.VideoID),
		VideoID: c.VideoID,
		Kind:    models.JobVoiceoverScript,
		Submit: func(ctx context.Context) (jobs.Observation, error) {
			s, err := c.gen.GenerateVoiceoverScript(ctx, c.VideoID)
			script = s
			return jobs.Observation{}, err
		},
	})
	if err != nil {
		return "", err
	}
	if _, err := job.Wait(ctx); err != nil {
		return "", err
	}
	if script == "" {
		return "", &jobs.GenerationError{Key: job.Key(), Err: errors.New("empty voiceover script")}
	}
	return script, c.edit(models.StageSoundscape, func(p *models.Project) error {
		p.Soundscape.VoiceoverScript = script
		return nil
	})
}

func (c *Controller) GenerateVoiceover(ctx context.Context) (*jobs.Job, error) {
	c.mu.Lock()
	script := c.project.Soundscape.VoiceoverScript
	c.mu.Unlock()
	if script == "" {
		return nil, fmt.Errorf("voiceover script is empty: %w", ErrInvalidInput)
	}
	return c.audioJob(ctx, models.JobVoiceoverAudio, jobKey(models.JobVoiceoverAudio, c.VideoID), itemVoiceover,
		func(ctx context.Context) (string, error) { return c.gen.GenerateVoiceover(ctx, c.VideoID, script) },
		func(s models.Snapshots) string {
			if s.Soundscape == nil {
				return ""
			}
			return s.Soundscape.Settings.VoiceoverAudioURL
		},
		func(p *models.Project, url string) { p.Soundscape.VoiceoverAudioURL = url })
}

// GenerateMusic generates background music from the music prompt. When the
// media store can re-host, the track is copied into it.
func (c *Controller) GenerateMusic(ctx context.Context) (*jobs.Job, error) {
	c.mu.Lock()
	prompt := c.project.Soundscape.MusicPrompt
	c.mu.Unlock()
	rehost := func(ctx context.Context, url string) string {
		r, ok := c.media.(Rehoster)
		if !ok || url == "" {
			return url
		}
		object := fmt.Sprintf("videos/%s/music/%s%s", c.VideoID, uuid.NewString(), filepath.Ext(url))
		hosted, err := r.Rehost(ctx, url, object)
		if err != nil {
			log.Printf("[Workflow] %s: rehost music: %v", c.VideoID, err)
			return url
		}
		return hosted
	}
	return c.audioJob(ctx, models.JobMusic, jobKey(models.JobMusic, c.VideoID), itemMusic,
		func(ctx context.Context) (string, error) {
			url, err := c.gen.GenerateMusic(ctx, c.VideoID, prompt)
			if err != nil {
				return "", err
			}
			return rehost(ctx, url), nil
		},
		func(s models.Snapshots) string {
			if s.Soundscape == nil {
				return ""
			}
			return s.Soundscape.Settings.MusicURL
		},
		func(p *models.Project, url string) { p.Soundscape.MusicURL = url })
}

// UploadMusic stores a user-provided track and makes it the background music.
func (c *Controller) UploadMusic(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	if c.media == nil {
		return "", ErrNoMediaStore
	}
	if err := c.checkUsable(); err != nil {
		return "", err
	}
	object := fmt.Sprintf("videos/%s/music/%s%s", c.VideoID, uuid.NewString(), filepath.Ext(filename))
	url, err := c.media.Upload(ctx, object, r, size)
	if err != nil {
		return "", fmt.Errorf("upload music: %w", err)
	}
	return url, c.edit(models.StageSoundscape, func(p *models.Project) error {
		p.Soundscape.UploadedMusicURL = url
		return nil
	})
}
