package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrCurrentVersion      = errors.New("version is the shot's current version")
	ErrForeignVersion      = errors.New("version does not belong to shot")
	ErrInheritedStartFrame = errors.New("start frame is inherited from the previous shot")
	ErrGroupOverlap        = errors.New("shot already belongs to an approved continuity group")
	ErrInvalidLoopCount    = errors.New("loop count must be at least 1")
)

// AtmosphereSettings are the stage 1 inputs a mood description is derived from.
type AtmosphereSettings struct {
	Mood      string `json:"mood"`
	Theme     string `json:"theme"`
	TimeOfDay string `json:"timeOfDay"`
	Season    string `json:"season"`
	Duration  int    `json:"duration"`
}

type Atmosphere struct {
	Settings    AtmosphereSettings `json:"settings"`
	Description string             `json:"moodDescription"`
	// DescribedWith is the settings snapshot taken when Description was produced.
	DescribedWith *AtmosphereSettings `json:"descriptionSettings,omitempty"`
}

// SetDescription stores a freshly generated mood description together with
// the settings it was generated from.
func (a *Atmosphere) SetDescription(description string) {
	a.Description = description
	snapshot := a.Settings
	a.DescribedWith = &snapshot
}

// DescriptionStale reports whether any setting changed after the description was made.
func (a Atmosphere) DescriptionStale() bool {
	return a.DescribedWith == nil || *a.DescribedWith != a.Settings
}

type VisualWorld struct {
	Style              string        `json:"style"`
	Mode               TransportMode `json:"transportMode"`
	ImageModel         string        `json:"imageModel,omitempty"`
	VideoModel         string        `json:"videoModel,omitempty"`
	AspectRatio        string        `json:"aspectRatio,omitempty"`
	ReferenceImageURLs []string      `json:"referenceImageUrls,omitempty"`
}

// CompositionSettings are the stage 4 project-wide generation defaults.
type CompositionSettings struct {
	ImageModel   string `json:"imageModel,omitempty"`
	VideoModel   string `json:"videoModel,omitempty"`
	CameraMotion string `json:"cameraMotion,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
}

type Soundscape struct {
	LoopModeEnabled    bool   `json:"loopModeEnabled"`
	LoopSettingsLocked bool   `json:"loopSettingsLocked"`
	VoiceoverEnabled   bool   `json:"voiceoverEnabled"`
	VoiceoverScript    string `json:"voiceoverScript,omitempty"`
	VoiceoverAudioURL  string `json:"voiceoverAudioUrl,omitempty"`
	MusicEnabled       bool   `json:"musicEnabled"`
	MusicPrompt        string `json:"musicPrompt,omitempty"`
	MusicURL           string `json:"musicUrl,omitempty"`
	UploadedMusicURL   string `json:"uploadedMusicUrl,omitempty"`
}

// HasMusic is true when background music exists from either upload or generation.
func (s Soundscape) HasMusic() bool {
	return s.UploadedMusicURL != "" || s.MusicURL != ""
}

type ExportSettings struct {
	Format     string `json:"format,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Fps        int    `json:"fps,omitempty"`
}

// Project is the live in-memory model of one video. Shots, versions and
// continuity groups are held in maps keyed by their owner so scene-scoped
// lookups and version history stay independent of Scene and Shot values.
type Project struct {
	VideoID      string                        `json:"videoId"`
	Atmosphere   Atmosphere                    `json:"atmosphere"`
	VisualWorld  VisualWorld                   `json:"visualWorld"`
	Scenes       []*Scene                      `json:"scenes"`
	Shots        map[string][]*Shot            `json:"shots"`
	Versions     map[string][]*ShotVersion     `json:"versions"`
	Groups       map[string][]*ContinuityGroup `json:"continuityGroups"`
	GroupsLocked bool                          `json:"continuityLocked"`
	Composition  CompositionSettings           `json:"composition"`
	Soundscape   Soundscape                    `json:"soundscape"`
	Export       ExportSettings                `json:"export"`
}

func NewProject(videoID string) *Project {
	return &Project{
		VideoID:  videoID,
		Shots:    make(map[string][]*Shot),
		Versions: make(map[string][]*ShotVersion),
		Groups:   make(map[string][]*ContinuityGroup),
	}
}

func (p *Project) Mode() TransportMode {
	if p.VisualWorld.Mode == "" {
		return ModeImageTransition
	}
	return p.VisualWorld.Mode
}

// Clone returns a deep copy that shares no pointers with p.
func (p *Project) Clone() *Project {
	out := *p
	if p.Atmosphere.DescribedWith != nil {
		s := *p.Atmosphere.DescribedWith
		out.Atmosphere.DescribedWith = &s
	}
	out.VisualWorld.ReferenceImageURLs = cloneStrings(p.VisualWorld.ReferenceImageURLs)
	if p.Scenes != nil {
		out.Scenes = make([]*Scene, len(p.Scenes))
		for i, sc := range p.Scenes {
			out.Scenes[i] = sc.clone()
		}
	}
	out.Shots = make(map[string][]*Shot, len(p.Shots))
	for sceneID, shots := range p.Shots {
		list := make([]*Shot, len(shots))
		for i, sh := range shots {
			list[i] = sh.clone()
		}
		out.Shots[sceneID] = list
	}
	out.Versions = make(map[string][]*ShotVersion, len(p.Versions))
	for shotID, versions := range p.Versions {
		list := make([]*ShotVersion, len(versions))
		for i, v := range versions {
			cp := *v
			list[i] = &cp
		}
		out.Versions[shotID] = list
	}
	out.Groups = make(map[string][]*ContinuityGroup, len(p.Groups))
	for sceneID, groups := range p.Groups {
		list := make([]*ContinuityGroup, len(groups))
		for i, g := range groups {
			list[i] = g.clone()
		}
		out.Groups[sceneID] = list
	}
	return &out
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
