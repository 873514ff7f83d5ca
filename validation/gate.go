// Package validation holds the per-stage predicates that gate forward
// navigation through the workflow.
package validation

import (
	"fmt"
	"strings"

	"StoryToVideo-studio/models"
)

// Requirement codes.
const (
	CodeMissingDescription = "missing-description"
	CodeStaleDescription   = "stale-description"
	CodeNoGroups           = "no-continuity-groups"
	CodeGroupsUnlocked     = "continuity-unlocked"
	CodeGroupsProposed     = "continuity-proposed"
	CodeNoApprovedGroup    = "continuity-none-approved"
	CodeMissingMedia       = "missing-media"
	CodeLoopsUnlocked      = "loops-unlocked"
	CodeMissingVoiceover   = "missing-voiceover"
	CodeMissingMusic       = "missing-music"
	CodeMissingSoundEffect = "missing-sound-effect"
)

// Requirement is one unmet condition, phrased for the user.
type Requirement struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	ShotIDs []string `json:"shotIds,omitempty"`
}

type Result struct {
	Stage  models.Stage  `json:"stage"`
	Passed bool          `json:"passed"`
	Unmet  []Requirement `json:"unmet,omitempty"`
}

// Err returns nil when the stage passed, otherwise an *Error.
func (r Result) Err() error {
	if r.Passed {
		return nil
	}
	return &Error{Stage: r.Stage, Unmet: r.Unmet}
}

// Error is a stage gate that is not satisfied. It never blocks other stages.
type Error struct {
	Stage models.Stage
	Unmet []Requirement
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Unmet))
	for _, r := range e.Unmet {
		msgs = append(msgs, r.Message)
	}
	return fmt.Sprintf("stage %s not complete: %s", e.Stage, strings.Join(msgs, "; "))
}

// Check evaluates the gate of stage against p.
func Check(stage models.Stage, p *models.Project) Result {
	var unmet []Requirement
	switch stage {
	case models.StageAtmosphere:
		unmet = checkAtmosphere(p)
	case models.StageFlowDesign:
		unmet = checkFlowDesign(p)
	case models.StageComposition:
		unmet = checkComposition(p)
	case models.StageSoundscape:
		unmet = checkSoundscape(p)
	}
	return Result{Stage: stage, Passed: len(unmet) == 0, Unmet: unmet}
}

// CheckAll evaluates every stage gate.
func CheckAll(p *models.Project) map[models.Stage]Result {
	out := make(map[models.Stage]Result, int(models.LastStage))
	for s := models.FirstStage; s <= models.LastStage; s++ {
		out[s] = Check(s, p)
	}
	return out
}

func checkAtmosphere(p *models.Project) []Requirement {
	a := p.Atmosphere
	if strings.TrimSpace(a.Description) == "" {
		return []Requirement{{Code: CodeMissingDescription, Message: "mood description has not been generated"}}
	}
	if a.DescriptionStale() {
		return []Requirement{{Code: CodeStaleDescription, Message: "settings changed since description was created"}}
	}
	return nil
}

func checkFlowDesign(p *models.Project) []Requirement {
	if !p.Mode().RequiresContinuity() {
		return nil
	}
	groups := p.AllGroups()
	if len(groups) == 0 {
		return []Requirement{{Code: CodeNoGroups, Message: "continuity groups have not been generated"}}
	}
	var unmet []Requirement
	if !p.GroupsLocked {
		unmet = append(unmet, Requirement{Code: CodeGroupsUnlocked, Message: "continuity groups are not locked"})
	}
	proposed, approved := 0, 0
	for _, g := range groups {
		switch g.Status {
		case models.GroupProposed:
			proposed++
		case models.GroupApproved:
			approved++
		}
	}
	if proposed > 0 {
		unmet = append(unmet, Requirement{Code: CodeGroupsProposed, Message: fmt.Sprintf("%d continuity group(s) still awaiting review", proposed)})
	}
	if approved == 0 {
		unmet = append(unmet, Requirement{Code: CodeNoApprovedGroup, Message: "at least one continuity group must be approved"})
	}
	return unmet
}

func checkComposition(p *models.Project) []Requirement {
	mode := p.Mode()
	var missing []string
	for _, sh := range p.OrderedShots() {
		if !p.CurrentVersion(sh.ID).HasMedia(mode) {
			missing = append(missing, sh.ID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return []Requirement{{
		Code:    CodeMissingMedia,
		Message: fmt.Sprintf("%d shot(s) missing %s", len(missing), mediaLabel(mode)),
		ShotIDs: missing,
	}}
}

func mediaLabel(mode models.TransportMode) string {
	switch mode {
	case models.ModeStartFrame:
		return "a start frame"
	case models.ModeStartEndFrame:
		return "start and end frames"
	default:
		return "an image"
	}
}

func checkSoundscape(p *models.Project) []Requirement {
	s := p.Soundscape
	var unmet []Requirement
	if s.LoopModeEnabled && !s.LoopSettingsLocked {
		unmet = append(unmet, Requirement{Code: CodeLoopsUnlocked, Message: "loop settings are not locked"})
	}
	if s.VoiceoverEnabled && s.VoiceoverAudioURL == "" {
		unmet = append(unmet, Requirement{Code: CodeMissingVoiceover, Message: "voiceover audio has not been generated"})
	}
	if s.MusicEnabled && !s.HasMusic() {
		unmet = append(unmet, Requirement{Code: CodeMissingMusic, Message: "background music has not been uploaded or generated"})
	}
	if p.Mode().UsesVideoClips() {
		var missing []string
		for _, sh := range p.OrderedShots() {
			if sh.SoundEffectURL == "" {
				missing = append(missing, sh.ID)
			}
		}
		if len(missing) > 0 {
			unmet = append(unmet, Requirement{
				Code:    CodeMissingSoundEffect,
				Message: fmt.Sprintf("%d shot(s) missing a sound effect", len(missing)),
				ShotIDs: missing,
			})
		}
	}
	return unmet
}
