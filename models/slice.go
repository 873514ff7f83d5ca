package models

// StageSlice is the stage-scoped part of a Project that is persisted when the
// stage is saved. The same shapes come back from the backend as snapshots.
type StageSlice interface {
	SliceStage() Stage
}

type AtmosphereSlice struct {
	Atmosphere
}

type VisualWorldSlice struct {
	VisualWorld
}

type FlowDesignSlice struct {
	Scenes           []Scene                      `json:"scenes"`
	Shots            map[string][]Shot            `json:"shots"`
	ContinuityGroups map[string][]ContinuityGroup `json:"continuityGroups,omitempty"`
	ContinuityLocked bool                         `json:"continuityLocked"`
}

type CompositionSlice struct {
	Scenes   []Scene                  `json:"scenes"`
	Shots    map[string][]Shot        `json:"shots"`
	Versions map[string][]ShotVersion `json:"shotVersions"`
	Settings CompositionSettings      `json:"settings"`
}

// SoundscapeSlice is both the stage 5 save payload and the server-initialised
// response of the stage 4 to 5 transition.
type SoundscapeSlice struct {
	ScenesWithLoops    []Scene           `json:"scenesWithLoops"`
	ShotsWithLoops     map[string][]Shot `json:"shotsWithLoops"`
	LoopSettingsLocked bool              `json:"loopSettingsLocked"`
	Settings           Soundscape        `json:"settings"`
}

type PreviewSlice struct {
	TotalDuration float64         `json:"totalDuration"`
	Timeline      []TimelineEntry `json:"timeline,omitempty"`
}

type ExportSlice struct {
	ExportSettings
}

func (AtmosphereSlice) SliceStage() Stage  { return StageAtmosphere }
func (VisualWorldSlice) SliceStage() Stage { return StageVisualWorld }
func (FlowDesignSlice) SliceStage() Stage  { return StageFlowDesign }
func (CompositionSlice) SliceStage() Stage { return StageComposition }
func (SoundscapeSlice) SliceStage() Stage  { return StageSoundscape }
func (PreviewSlice) SliceStage() Stage     { return StagePreview }
func (ExportSlice) SliceStage() Stage      { return StageExport }

// Snapshots is the full persisted state of a video: one independently saved
// slice per completed stage.
type Snapshots struct {
	VideoID      string            `json:"id"`
	CurrentStage Stage             `json:"currentStep"`
	Atmosphere   *AtmosphereSlice  `json:"step1,omitempty"`
	VisualWorld  *VisualWorldSlice `json:"step2,omitempty"`
	FlowDesign   *FlowDesignSlice  `json:"step3,omitempty"`
	Composition  *CompositionSlice `json:"step4,omitempty"`
	Soundscape   *SoundscapeSlice  `json:"step5,omitempty"`
	Export       *ExportSlice      `json:"step7,omitempty"`
}

// Put stores slice under its stage.
func (s *Snapshots) Put(slice StageSlice) {
	switch v := slice.(type) {
	case *AtmosphereSlice:
		s.Atmosphere = v
	case *VisualWorldSlice:
		s.VisualWorld = v
	case *FlowDesignSlice:
		s.FlowDesign = v
	case *CompositionSlice:
		s.Composition = v
	case *SoundscapeSlice:
		s.Soundscape = v
	case *ExportSlice:
		s.Export = v
	}
}

// Get returns the slice stored for stage, or nil.
func (s Snapshots) Get(stage Stage) StageSlice {
	switch stage {
	case StageAtmosphere:
		if s.Atmosphere != nil {
			return s.Atmosphere
		}
	case StageVisualWorld:
		if s.VisualWorld != nil {
			return s.VisualWorld
		}
	case StageFlowDesign:
		if s.FlowDesign != nil {
			return s.FlowDesign
		}
	case StageComposition:
		if s.Composition != nil {
			return s.Composition
		}
	case StageSoundscape:
		if s.Soundscape != nil {
			return s.Soundscape
		}
	case StageExport:
		if s.Export != nil {
			return s.Export
		}
	}
	return nil
}

// Slice builds the persisted slice of p for stage.
func (p *Project) Slice(stage Stage) StageSlice {
	switch stage {
	case StageAtmosphere:
		c := p.Clone()
		return &AtmosphereSlice{Atmosphere: c.Atmosphere}
	case StageVisualWorld:
		c := p.Clone()
		return &VisualWorldSlice{VisualWorld: c.VisualWorld}
	case StageFlowDesign:
		s := &FlowDesignSlice{
			Scenes:           p.sceneValues(),
			Shots:            p.shotValues(),
			ContinuityGroups: make(map[string][]ContinuityGroup, len(p.Groups)),
			ContinuityLocked: p.GroupsLocked,
		}
		for sceneID, groups := range p.Groups {
			for _, g := range groups {
				s.ContinuityGroups[sceneID] = append(s.ContinuityGroups[sceneID], *g.clone())
			}
		}
		return s
	case StageComposition:
		s := &CompositionSlice{
			Scenes:   p.sceneValues(),
			Shots:    p.shotValues(),
			Versions: make(map[string][]ShotVersion, len(p.Versions)),
			Settings: p.Composition,
		}
		for shotID, versions := range p.Versions {
			for _, v := range versions {
				s.Versions[shotID] = append(s.Versions[shotID], *v)
			}
		}
		return s
	case StageSoundscape:
		return &SoundscapeSlice{
			ScenesWithLoops:    p.sceneValues(),
			ShotsWithLoops:     p.shotValues(),
			LoopSettingsLocked: p.Soundscape.LoopSettingsLocked,
			Settings:           p.Soundscape,
		}
	case StagePreview:
		return &PreviewSlice{TotalDuration: p.TotalDuration(), Timeline: p.ExpandLoops()}
	case StageExport:
		return &ExportSlice{ExportSettings: p.Export}
	}
	return nil
}

func (p *Project) sceneValues() []Scene {
	out := make([]Scene, 0, len(p.Scenes))
	for _, sc := range p.Scenes {
		out = append(out, *sc.clone())
	}
	return out
}

func (p *Project) shotValues() map[string][]Shot {
	out := make(map[string][]Shot, len(p.Shots))
	for _, sc := range p.Scenes {
		shots := p.Shots[sc.ID]
		list := make([]Shot, 0, len(shots))
		for _, sh := range shots {
			list = append(list, *sh.clone())
		}
		out[sc.ID] = list
	}
	return out
}
