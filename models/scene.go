package models

import "fmt"

type Scene struct {
	ID           string  `json:"id"`
	SceneNumber  int     `json:"sceneNumber"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Duration     float64 `json:"duration"`
	ImageModel   string  `json:"imageModel,omitempty"`
	VideoModel   string  `json:"videoModel,omitempty"`
	CameraMotion string  `json:"cameraMotion,omitempty"`
	// LoopCount stays nil until the soundscape stage initialises it.
	LoopCount *int `json:"loopCount,omitempty"`
}

func (s *Scene) clone() *Scene {
	cp := *s
	cp.LoopCount = cloneInt(s.LoopCount)
	return &cp
}

// Loops returns the effective loop count (1 when unset).
func (s *Scene) Loops() int {
	if s.LoopCount == nil || *s.LoopCount < 1 {
		return 1
	}
	return *s.LoopCount
}

func (p *Project) FindScene(id string) (*Scene, int) {
	for i, sc := range p.Scenes {
		if sc.ID == id {
			return sc, i
		}
	}
	return nil, -1
}

// InsertScene places scene at index at (clamped) and renumbers all scenes.
func (p *Project) InsertScene(scene *Scene, at int) error {
	if scene == nil || scene.ID == "" {
		return fmt.Errorf("insert scene: missing id")
	}
	if existing, _ := p.FindScene(scene.ID); existing != nil {
		return fmt.Errorf("insert scene %s: duplicate id", scene.ID)
	}
	if at < 0 || at > len(p.Scenes) {
		at = len(p.Scenes)
	}
	p.Scenes = append(p.Scenes, nil)
	copy(p.Scenes[at+1:], p.Scenes[at:])
	p.Scenes[at] = scene
	p.RenumberScenes()
	return nil
}

// DeleteScene removes a scene together with its shots, versions and groups.
func (p *Project) DeleteScene(id string) error {
	_, idx := p.FindScene(id)
	if idx < 0 {
		return fmt.Errorf("delete scene %s: %w", id, ErrNotFound)
	}
	for _, sh := range p.Shots[id] {
		delete(p.Versions, sh.ID)
	}
	delete(p.Shots, id)
	delete(p.Groups, id)
	p.Scenes = append(p.Scenes[:idx], p.Scenes[idx+1:]...)
	p.RenumberScenes()
	return nil
}

// RenumberScenes rewrites sceneNumber as a contiguous 1-based sequence in slice order.
func (p *Project) RenumberScenes() {
	for i, sc := range p.Scenes {
		sc.SceneNumber = i + 1
	}
}
