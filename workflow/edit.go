package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"StoryToVideo-studio/models"

	"github.com/google/uuid"
)

func (c *Controller) SetAtmosphere(settings models.AtmosphereSettings) error {
	return c.edit(models.StageAtmosphere, func(p *models.Project) error {
		p.Atmosphere.Settings = settings
		return nil
	})
}

// GenerateMoodDescription asks the backend for a description of the current
// atmosphere settings and records which settings it was made from.
func (c *Controller) GenerateMoodDescription(ctx context.Context) (string, error) {
	c.mu.Lock()
	if err := c.usable(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	settings := c.project.Atmosphere.Settings
	c.mu.Unlock()

	desc, err := c.gen.DescribeAtmosphere(ctx, c.VideoID, settings)
	if err != nil {
		return "", fmt.Errorf("describe atmosphere: %w", err)
	}
	err = c.edit(models.StageAtmosphere, func(p *models.Project) error {
		// Settings may have changed while the request ran; the description
		// belongs to the settings it was generated from.
		current := p.Atmosphere.Settings
		p.Atmosphere.Settings = settings
		p.Atmosphere.SetDescription(desc)
		p.Atmosphere.Settings = current
		return nil
	})
	return desc, err
}

func (c *Controller) SetVisualWorld(vw models.VisualWorld) error {
	if vw.Mode != "" && !vw.Mode.Valid() {
		return fmt.Errorf("transport mode %q: %w", vw.Mode, ErrInvalidInput)
	}
	return c.edit(models.StageVisualWorld, func(p *models.Project) error {
		p.VisualWorld = vw
		p.ApplyContinuity()
		return nil
	})
}

// ScenePatch holds the editable scene fields; nil fields are left unchanged.
type ScenePatch struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Duration     *float64 `json:"duration"`
	ImageModel   *string  `json:"imageModel"`
	VideoModel   *string  `json:"videoModel"`
	CameraMotion *string  `json:"cameraMotion"`
}

// AddScene inserts a new scene at position at (-1 appends).
func (c *Controller) AddScene(scene models.Scene, at int) (*models.Scene, error) {
	if scene.ID == "" {
		scene.ID = uuid.NewString()
	}
	scene.LoopCount = nil
	var out models.Scene
	err := c.edit(c.structureStage(), func(p *models.Project) error {
		sc := scene
		if err := p.InsertScene(&sc, at); err != nil {
			return err
		}
		out = sc
		return nil
	})
	return &out, err
}

func (c *Controller) UpdateScene(id string, patch ScenePatch) error {
	return c.edit(c.structureStage(), func(p *models.Project) error {
		sc, _ := p.FindScene(id)
		if sc == nil {
			return fmt.Errorf("scene %s: %w", id, models.ErrNotFound)
		}
		setString(&sc.Title, patch.Title)
		setString(&sc.Description, patch.Description)
		setString(&sc.ImageModel, patch.ImageModel)
		setString(&sc.VideoModel, patch.VideoModel)
		setString(&sc.CameraMotion, patch.CameraMotion)
		if patch.Duration != nil {
			sc.Duration = *patch.Duration
		}
		return nil
	})
}

func (c *Controller) DeleteScene(id string) error {
	return c.edit(c.structureStage(), func(p *models.Project) error {
		return p.DeleteScene(id)
	})
}

// ShotPatch holds the editable shot fields; nil fields are left unchanged.
type ShotPatch struct {
	Description    *string  `json:"description"`
	Duration       *float64 `json:"duration"`
	ShotType       *string  `json:"shotType"`
	CameraMovement *string  `json:"cameraMovement"`
	ImageModel     *string  `json:"imageModel"`
	VideoModel     *string  `json:"videoModel"`
}

// AddShot inserts a shot into its scene at position at (-1 appends).
func (c *Controller) AddShot(shot models.Shot, at int) (*models.Shot, error) {
	if shot.ID == "" {
		shot.ID = uuid.NewString()
	}
	shot.CurrentVersionID = ""
	shot.StripLaterConcerns()
	var out models.Shot
	err := c.edit(c.structureStage(), func(p *models.Project) error {
		sh := shot
		if err := p.InsertShot(&sh, at); err != nil {
			return err
		}
		out = sh
		return nil
	})
	return &out, err
}

func (c *Controller) UpdateShot(id string, patch ShotPatch) error {
	return c.edit(c.structureStage(), func(p *models.Project) error {
		sh, _ := p.FindShot(id)
		if sh == nil {
			return fmt.Errorf("shot %s: %w", id, models.ErrNotFound)
		}
		setString(&sh.Description, patch.Description)
		setString(&sh.ShotType, patch.ShotType)
		setString(&sh.CameraMovement, patch.CameraMovement)
		setString(&sh.ImageModel, patch.ImageModel)
		setString(&sh.VideoModel, patch.VideoModel)
		if patch.Duration != nil {
			sh.Duration = *patch.Duration
		}
		return nil
	})
}

func (c *Controller) DeleteShot(id string) error {
	return c.edit(c.structureStage(), func(p *models.Project) error {
		return p.DeleteShot(id)
	})
}

func (c *Controller) MoveShot(id string, to int) error {
	return c.edit(c.structureStage(), func(p *models.Project) error {
		return p.MoveShot(id, to)
	})
}

// GenerateContinuityGroups replaces every group with the backend's proposal.
func (c *Controller) GenerateContinuityGroups(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usable(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.project.GroupsLocked {
		c.mu.Unlock()
		return fmt.Errorf("continuity groups: %w", ErrLocked)
	}
	c.mu.Unlock()

	proposed, err := c.gen.GenerateContinuityGroups(ctx, c.VideoID)
	if err != nil {
		return fmt.Errorf("generate continuity groups: %w", err)
	}
	now := time.Now()
	return c.edit(models.StageFlowDesign, func(p *models.Project) error {
		p.Groups = make(map[string][]*models.ContinuityGroup, len(proposed))
		for sceneID, groups := range proposed {
			if sc, _ := p.FindScene(sceneID); sc == nil {
				log.Printf("[Workflow] %s: dropping continuity groups of unknown scene %s", c.VideoID, sceneID)
				continue
			}
			for _, g := range groups {
				g := g
				if g.ID == "" {
					g.ID = uuid.NewString()
				}
				g.SceneID = sceneID
				g.Status = models.GroupProposed
				g.CreatedAt = now
				g.ApprovedAt = nil
				p.Groups[sceneID] = append(p.Groups[sceneID], &g)
			}
		}
		p.ApplyContinuity()
		return nil
	})
}

func (c *Controller) groupEdit(fn func(p *models.Project, now time.Time) error) error {
	return c.edit(models.StageFlowDesign, func(p *models.Project) error {
		if p.GroupsLocked {
			return fmt.Errorf("continuity groups: %w", ErrLocked)
		}
		return fn(p, time.Now())
	})
}

func (c *Controller) ApproveGroup(id string) error {
	return c.groupEdit(func(p *models.Project, now time.Time) error { return p.ApproveGroup(id, now) })
}

func (c *Controller) RejectGroup(id string) error {
	return c.groupEdit(func(p *models.Project, now time.Time) error { return p.RejectGroup(id, now) })
}

func (c *Controller) EditGroup(id string, shotIDs []string) error {
	return c.groupEdit(func(p *models.Project, now time.Time) error { return p.EditGroup(id, shotIDs, now) })
}

// LockContinuity sets the continuity lock and persists it immediately.
func (c *Controller) LockContinuity(ctx context.Context, locked bool) error {
	return c.lockAction(ctx, models.StageFlowDesign, func(p *models.Project) *bool { return &p.GroupsLocked }, locked)
}

// LockLoops sets the loop settings lock and persists it immediately.
func (c *Controller) LockLoops(ctx context.Context, locked bool) error {
	return c.lockAction(ctx, models.StageSoundscape, func(p *models.Project) *bool { return &p.Soundscape.LoopSettingsLocked }, locked)
}

func (c *Controller) lockAction(ctx context.Context, stage models.Stage, field func(p *models.Project) *bool, locked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	flag := field(c.project)
	prev := *flag
	*flag = locked
	if err := c.gateway.SaveSettingsNow(ctx, c.project.Slice(stage)); err != nil {
		*flag = prev
		return err
	}
	return nil
}

func (c *Controller) SetCompositionSettings(settings models.CompositionSettings) error {
	return c.edit(models.StageComposition, func(p *models.Project) error {
		p.Composition = settings
		return nil
	})
}

func (c *Controller) SelectVersion(shotID, versionID string) error {
	return c.edit(models.StageComposition, func(p *models.Project) error {
		return p.SetCurrentVersion(shotID, versionID)
	})
}

func (c *Controller) DeleteVersion(shotID, versionID string) error {
	return c.edit(models.StageComposition, func(p *models.Project) error {
		return p.DeleteVersion(shotID, versionID)
	})
}

func (c *Controller) SetStartFramePrompt(shotID, prompt string) error {
	return c.edit(models.StageComposition, func(p *models.Project) error {
		return p.SetStartFramePrompt(shotID, prompt)
	})
}

func (c *Controller) SetSceneLoop(sceneID string, count int) error {
	return c.edit(models.StageSoundscape, func(p *models.Project) error {
		if p.Soundscape.LoopSettingsLocked {
			return fmt.Errorf("loop settings: %w", ErrLocked)
		}
		return p.SetSceneLoop(sceneID, count)
	})
}

func (c *Controller) SetShotLoop(shotID string, count int) error {
	return c.edit(models.StageSoundscape, func(p *models.Project) error {
		if p.Soundscape.LoopSettingsLocked {
			return fmt.Errorf("loop settings: %w", ErrLocked)
		}
		return p.SetShotLoop(shotID, count)
	})
}

// SoundscapePatch holds the editable soundscape toggles and texts.
type SoundscapePatch struct {
	LoopModeEnabled  *bool   `json:"loopModeEnabled"`
	VoiceoverEnabled *bool   `json:"voiceoverEnabled"`
	VoiceoverScript  *string `json:"voiceoverScript"`
	MusicEnabled     *bool   `json:"musicEnabled"`
	MusicPrompt      *string `json:"musicPrompt"`
}

func (c *Controller) UpdateSoundscape(patch SoundscapePatch) error {
	return c.edit(models.StageSoundscape, func(p *models.Project) error {
		s := &p.Soundscape
		setBool(&s.LoopModeEnabled, patch.LoopModeEnabled)
		setBool(&s.VoiceoverEnabled, patch.VoiceoverEnabled)
		setBool(&s.MusicEnabled, patch.MusicEnabled)
		setString(&s.VoiceoverScript, patch.VoiceoverScript)
		setString(&s.MusicPrompt, patch.MusicPrompt)
		// Loop counts come from the composition to soundscape transition.
		// Only entries it never initialised fall back to 1.
		if s.LoopModeEnabled {
			if n := p.InitializeLoops(); n > 0 {
				log.Printf("[Workflow] %s: %d loop counts were never initialised, defaulting to 1", c.VideoID, n)
			}
		}
		return nil
	})
}

func (c *Controller) SetSoundEffectDescription(shotID, description string) error {
	return c.edit(models.StageSoundscape, func(p *models.Project) error {
		sh, _ := p.FindShot(shotID)
		if sh == nil {
			return fmt.Errorf("shot %s: %w", shotID, models.ErrNotFound)
		}
		sh.SoundEffectDescription = description
		return nil
	})
}

func (c *Controller) SetExportSettings(settings models.ExportSettings) error {
	return c.edit(models.StageExport, func(p *models.Project) error {
		p.Export = settings
		return nil
	})
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
