// Package restoration merges independently saved stage snapshots into one
// live project model.
//
// Stages are restored by an explicit ordered pipeline. A stage is only
// restored once every earlier step has completed for the same video. A
// restored stage is skipped while its incoming snapshot matches the digest of
// the one last applied; once a stage is re-applied every later stage is
// re-applied too, since an earlier step may rebuild what they own.
package restoration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"

	"StoryToVideo-studio/models"
)

var ErrNotReady = errors.New("previous stage has not been restored")

// State records which stages have been restored for the current video.
type State struct {
	VideoID  string                       `json:"videoId"`
	Restored [models.LastStage + 1]bool   `json:"restored"`
	Applied  [models.LastStage + 1]string `json:"applied"`
}

func (s *State) Reset(videoID string) {
	*s = State{VideoID: videoID}
}

func (s *State) IsRestored(stage models.Stage) bool {
	return stage.Valid() && s.Restored[stage]
}

// invalidateFrom forgets the applied digests of stage and every later stage.
func (s *State) invalidateFrom(stage models.Stage) {
	for st := stage; st <= models.LastStage; st++ {
		s.Applied[st] = ""
	}
}

type step struct {
	stage models.Stage
	apply func(p *models.Project, snaps models.Snapshots) ([]Conflict, error)
}

var pipeline = []step{
	{models.StageAtmosphere, applyAtmosphere},
	{models.StageVisualWorld, applyVisualWorld},
	{models.StageFlowDesign, applyFlowDesign},
	{models.StageComposition, applyComposition},
	{models.StageSoundscape, applySoundscape},
	{models.StageExport, applyExport},
}

type Engine struct {
	// Logf receives restoration conflicts. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

func NewEngine() *Engine {
	return &Engine{Logf: log.Printf}
}

// Restore runs every pipeline step in order. A failing step stops the
// pipeline and leaves later stages unrestored.
func (e *Engine) Restore(p *models.Project, st *State, snaps models.Snapshots) error {
	if st.VideoID != p.VideoID {
		st.Reset(p.VideoID)
	}
	for i := range pipeline {
		if err := e.run(p, st, i, snaps); err != nil {
			return err
		}
	}
	return nil
}

// RestoreStage re-runs a single stage, e.g. when the backend returns fresh
// data for it after a transition.
func (e *Engine) RestoreStage(p *models.Project, st *State, stage models.Stage, snaps models.Snapshots) error {
	if st.VideoID != p.VideoID {
		st.Reset(p.VideoID)
	}
	for i, s := range pipeline {
		if s.stage == stage {
			return e.run(p, st, i, snaps)
		}
	}
	return fmt.Errorf("restore: no step for stage %s", stage)
}

func (e *Engine) run(p *models.Project, st *State, i int, snaps models.Snapshots) error {
	s := pipeline[i]
	if i > 0 && !st.Restored[pipeline[i-1].stage] {
		return fmt.Errorf("restore %s: %w", s.stage, ErrNotReady)
	}
	slice := snaps.Get(s.stage)
	if slice == nil {
		st.Restored[s.stage] = true
		return nil
	}
	sum := digest(slice)
	if st.Restored[s.stage] && sum != "" && sum == st.Applied[s.stage] {
		return nil
	}
	candidate := p.Clone()
	conflicts, err := s.apply(candidate, snaps)
	if err != nil {
		return fmt.Errorf("restore %s: %w", s.stage, err)
	}
	for _, c := range conflicts {
		e.logf("[Restore] %s", c)
	}
	if st.Restored[s.stage] {
		if reflect.DeepEqual(candidate, p) {
			st.Applied[s.stage] = sum
			return nil
		}
		e.logf("[Restore] %s snapshot differs from live model for video %s, re-synchronising", s.stage, p.VideoID)
	}
	*p = *candidate
	st.Restored[s.stage] = true
	st.invalidateFrom(s.stage + 1)
	st.Applied[s.stage] = sum
	return nil
}

// InitialiseLoops merges the loop counts the server initialises when
// composition is left. Soundscape settings and shot audio already in the live
// model are kept unless the response carries a value for them.
func (e *Engine) InitialiseLoops(p *models.Project, st *State, slice *models.SoundscapeSlice) {
	if slice == nil {
		return
	}
	for _, c := range mergeLoops(p, slice, false) {
		e.logf("[Restore] %s", c)
	}
	p.Soundscape.LoopSettingsLocked = slice.LoopSettingsLocked
	st.invalidateFrom(models.StageSoundscape)
}

func digest(slice models.StageSlice) string {
	b, err := json.Marshal(slice)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logf != nil {
		e.Logf(format, args...)
	}
}

// Conflict is a field on which two sources disagreed. It is resolved by the
// precedence rules and only logged.
type Conflict struct {
	Stage    models.Stage
	Entity   string
	ID       string
	Field    string
	Live     any
	Incoming any
	Kept     any
}

func (c Conflict) String() string {
	return fmt.Sprintf("conflict stage=%s %s=%s field=%s live=%v incoming=%v kept=%v",
		c.Stage, c.Entity, c.ID, c.Field, c.Live, c.Incoming, c.Kept)
}
