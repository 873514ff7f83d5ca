package models

// ShotDuration is the shot's playback length including its own loops.
func (p *Project) ShotDuration(shot *Shot) float64 {
	return shot.Duration * float64(shot.Loops())
}

// SceneDuration is the scene's playback length including shot and scene loops.
// A scene without shots falls back to its base duration.
func (p *Project) SceneDuration(scene *Scene) float64 {
	shots := p.Shots[scene.ID]
	var base float64
	if len(shots) == 0 {
		base = scene.Duration
	}
	for _, sh := range shots {
		base += p.ShotDuration(sh)
	}
	return base * float64(scene.Loops())
}

func (p *Project) TotalDuration() float64 {
	var total float64
	for _, sc := range p.Scenes {
		total += p.SceneDuration(sc)
	}
	return total
}

// TimelineEntry is one occurrence of a shot in the expanded playback order.
type TimelineEntry struct {
	SceneID   string  `json:"sceneId"`
	ShotID    string  `json:"shotId"`
	SceneLoop int     `json:"sceneLoop"`
	ShotLoop  int     `json:"shotLoop"`
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"`
}

// ExpandLoops unrolls scene and shot loop counts into the playback timeline.
func (p *Project) ExpandLoops() []TimelineEntry {
	var out []TimelineEntry
	var cursor float64
	for _, sc := range p.Scenes {
		for sl := 1; sl <= sc.Loops(); sl++ {
			for _, sh := range p.Shots[sc.ID] {
				for l := 1; l <= sh.Loops(); l++ {
					out = append(out, TimelineEntry{
						SceneID:   sc.ID,
						ShotID:    sh.ID,
						SceneLoop: sl,
						ShotLoop:  l,
						Start:     cursor,
						Duration:  sh.Duration,
					})
					cursor += sh.Duration
				}
			}
		}
	}
	return out
}

// InitializeLoops sets every unset scene and shot loop count to 1 and
// reports how many it set.
func (p *Project) InitializeLoops() int {
	n := 0
	for _, sc := range p.Scenes {
		if sc.LoopCount == nil {
			one := 1
			sc.LoopCount = &one
			n++
		}
		for _, sh := range p.Shots[sc.ID] {
			if sh.LoopCount == nil {
				one := 1
				sh.LoopCount = &one
				n++
			}
		}
	}
	return n
}
