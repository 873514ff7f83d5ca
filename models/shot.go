package models

import "fmt"

type Shot struct {
	ID             string  `json:"id"`
	SceneID        string  `json:"sceneId"`
	ShotNumber     int     `json:"shotNumber"`
	Description    string  `json:"description,omitempty"`
	Duration       float64 `json:"duration"`
	ShotType       string  `json:"shotType,omitempty"`
	CameraMovement string  `json:"cameraMovement,omitempty"`
	ImageModel     string  `json:"imageModel,omitempty"`
	VideoModel     string  `json:"videoModel,omitempty"`
	// CurrentVersionID is empty or the id of one of this shot's versions.
	CurrentVersionID       string `json:"currentVersionId,omitempty"`
	LoopCount              *int   `json:"loopCount,omitempty"`
	SoundEffectDescription string `json:"soundEffectDescription,omitempty"`
	SoundEffectURL         string `json:"soundEffectUrl,omitempty"`
}

func (s *Shot) clone() *Shot {
	cp := *s
	cp.LoopCount = cloneInt(s.LoopCount)
	return &cp
}

func (s *Shot) Loops() int {
	if s.LoopCount == nil || *s.LoopCount < 1 {
		return 1
	}
	return *s.LoopCount
}

// StripLaterConcerns clears the fields owned by the soundscape stage.
func (s *Shot) StripLaterConcerns() {
	s.LoopCount = nil
	s.SoundEffectDescription = ""
	s.SoundEffectURL = ""
}

// FindShot looks a shot up across all scenes.
func (p *Project) FindShot(id string) (*Shot, int) {
	for _, sc := range p.Scenes {
		for i, sh := range p.Shots[sc.ID] {
			if sh.ID == id {
				return sh, i
			}
		}
	}
	return nil, -1
}

// OrderedShots returns every shot in playback order.
func (p *Project) OrderedShots() []*Shot {
	var out []*Shot
	for _, sc := range p.Scenes {
		out = append(out, p.Shots[sc.ID]...)
	}
	return out
}

func (p *Project) ShotCount() int {
	n := 0
	for _, sc := range p.Scenes {
		n += len(p.Shots[sc.ID])
	}
	return n
}

// InsertShot places shot at index at (clamped) inside its scene and renumbers.
func (p *Project) InsertShot(shot *Shot, at int) error {
	if shot == nil || shot.ID == "" {
		return fmt.Errorf("insert shot: missing id")
	}
	if sc, _ := p.FindScene(shot.SceneID); sc == nil {
		return fmt.Errorf("insert shot %s: scene %s: %w", shot.ID, shot.SceneID, ErrNotFound)
	}
	if existing, _ := p.FindShot(shot.ID); existing != nil {
		return fmt.Errorf("insert shot %s: duplicate id", shot.ID)
	}
	list := p.Shots[shot.SceneID]
	if at < 0 || at > len(list) {
		at = len(list)
	}
	list = append(list, nil)
	copy(list[at+1:], list[at:])
	list[at] = shot
	p.Shots[shot.SceneID] = list
	p.RenumberShots(shot.SceneID)
	return nil
}

// DeleteShot removes a shot, its versions and its membership in continuity
// groups. Inherited start frames of the scene are re-derived.
func (p *Project) DeleteShot(id string) error {
	shot, idx := p.FindShot(id)
	if shot == nil {
		return fmt.Errorf("delete shot %s: %w", id, ErrNotFound)
	}
	list := p.Shots[shot.SceneID]
	p.Shots[shot.SceneID] = append(list[:idx], list[idx+1:]...)
	delete(p.Versions, id)
	for _, g := range p.Groups[shot.SceneID] {
		g.removeShot(id)
	}
	p.RenumberShots(shot.SceneID)
	p.applyContinuityInScene(shot.SceneID)
	return nil
}

// MoveShot reorders a shot within its scene.
func (p *Project) MoveShot(id string, to int) error {
	shot, from := p.FindShot(id)
	if shot == nil {
		return fmt.Errorf("move shot %s: %w", id, ErrNotFound)
	}
	list := p.Shots[shot.SceneID]
	if to < 0 || to >= len(list) {
		return fmt.Errorf("move shot %s: position %d out of range", id, to)
	}
	list = append(list[:from], list[from+1:]...)
	list = append(list, nil)
	copy(list[to+1:], list[to:])
	list[to] = shot
	p.Shots[shot.SceneID] = list
	p.RenumberShots(shot.SceneID)
	return nil
}

// RenumberShots rewrites shotNumber as a contiguous 1-based sequence within a scene.
func (p *Project) RenumberShots(sceneID string) {
	for i, sh := range p.Shots[sceneID] {
		sh.ShotNumber = i + 1
	}
}

func (p *Project) SetShotLoop(id string, count int) error {
	if count < 1 {
		return ErrInvalidLoopCount
	}
	shot, _ := p.FindShot(id)
	if shot == nil {
		return fmt.Errorf("shot %s: %w", id, ErrNotFound)
	}
	shot.LoopCount = &count
	return nil
}

func (p *Project) SetSceneLoop(id string, count int) error {
	if count < 1 {
		return ErrInvalidLoopCount
	}
	scene, _ := p.FindScene(id)
	if scene == nil {
		return fmt.Errorf("scene %s: %w", id, ErrNotFound)
	}
	scene.LoopCount = &count
	return nil
}
