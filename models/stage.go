package models

import "fmt"

// Stage is one of the seven sequential steps of the workflow.
type Stage int

const (
	StageAtmosphere Stage = iota + 1
	StageVisualWorld
	StageFlowDesign
	StageComposition
	StageSoundscape
	StagePreview
	StageExport
)

const (
	FirstStage = StageAtmosphere
	LastStage  = StageExport
)

var stageNames = map[Stage]string{
	StageAtmosphere:  "atmosphere",
	StageVisualWorld: "visual-world",
	StageFlowDesign:  "flow-design",
	StageComposition: "composition",
	StageSoundscape:  "soundscape",
	StagePreview:     "preview",
	StageExport:      "export",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) Valid() bool {
	return s >= FirstStage && s <= LastStage
}

// TransportMode decides how shots are stitched together and therefore which
// media each shot needs before composition is complete.
type TransportMode string

const (
	ModeImageTransition TransportMode = "image-transition"
	ModeStartFrame      TransportMode = "start-frame"
	ModeStartEndFrame   TransportMode = "start-end-frame"
)

func (m TransportMode) Valid() bool {
	switch m {
	case ModeImageTransition, ModeStartFrame, ModeStartEndFrame:
		return true
	}
	return false
}

// RequiresContinuity reports whether shots must be grouped into unbroken
// frame-to-frame sequences.
func (m TransportMode) RequiresContinuity() bool {
	return m == ModeStartEndFrame
}

// UsesVideoClips reports whether every shot is rendered as a discrete clip.
func (m TransportMode) UsesVideoClips() bool {
	return m == ModeStartFrame || m == ModeStartEndFrame
}
