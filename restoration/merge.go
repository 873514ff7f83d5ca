package restoration

import (
	"fmt"
	"sort"

	"StoryToVideo-studio/models"
)

func applyAtmosphere(p *models.Project, snaps models.Snapshots) ([]Conflict, error) {
	a := snaps.Atmosphere.Atmosphere
	if a.DescribedWith != nil {
		s := *a.DescribedWith
		a.DescribedWith = &s
	}
	p.Atmosphere = a
	return nil, nil
}

func applyVisualWorld(p *models.Project, snaps models.Snapshots) ([]Conflict, error) {
	vw := snaps.VisualWorld.VisualWorld
	if vw.Mode != "" && !vw.Mode.Valid() {
		return nil, fmt.Errorf("unknown transport mode %q", vw.Mode)
	}
	if vw.ReferenceImageURLs != nil {
		vw.ReferenceImageURLs = append([]string(nil), vw.ReferenceImageURLs...)
	}
	p.VisualWorld = vw
	return nil, nil
}

// applyFlowDesign takes scene/shot identity and ordering plus the continuity
// groups, which are owned exclusively by this stage.
func applyFlowDesign(p *models.Project, snaps models.Snapshots) ([]Conflict, error) {
	snap := snaps.FlowDesign
	conflicts, err := applyStructure(p, models.StageFlowDesign, snap.Scenes, snap.Shots)
	if err != nil {
		return conflicts, err
	}
	for _, sh := range p.OrderedShots() {
		if sh.CurrentVersionID == "" {
			continue
		}
		if v, _ := p.FindVersion(sh.ID, sh.CurrentVersionID); v == nil && len(p.Versions[sh.ID]) > 0 {
			conflicts = append(conflicts, Conflict{
				Stage: models.StageFlowDesign, Entity: "shot", ID: sh.ID, Field: "currentVersionId",
				Incoming: sh.CurrentVersionID, Kept: "(resolved by composition)",
			})
		}
	}
	p.Groups = make(map[string][]*models.ContinuityGroup, len(snap.ContinuityGroups))
	for sceneID, groups := range snap.ContinuityGroups {
		if sc, _ := p.FindScene(sceneID); sc == nil {
			conflicts = append(conflicts, Conflict{Stage: models.StageFlowDesign, Entity: "scene", ID: sceneID, Field: "continuityGroups", Incoming: len(groups), Kept: 0})
			continue
		}
		list := make([]*models.ContinuityGroup, 0, len(groups))
		for _, g := range groups {
			g := g
			g.SceneID = sceneID
			g.ShotIDs = knownShots(p, sceneID, g.ShotIDs)
			if g.Status == "" {
				g.Status = models.GroupProposed
			}
			list = append(list, &g)
		}
		p.Groups[sceneID] = list
	}
	p.GroupsLocked = snap.ContinuityLocked
	p.ApplyContinuity()
	return conflicts, nil
}

// applyComposition supersedes the flow design copy of scenes and shots when
// present, replaces the version lists and reconciles current version pointers.
func applyComposition(p *models.Project, snaps models.Snapshots) ([]Conflict, error) {
	snap := snaps.Composition
	var conflicts []Conflict
	if len(snap.Scenes) > 0 {
		c, err := applyStructure(p, models.StageComposition, snap.Scenes, snap.Shots)
		conflicts = append(conflicts, c...)
		if err != nil {
			return conflicts, err
		}
	}
	p.Composition = snap.Settings

	versions := make(map[string][]*models.ShotVersion, len(snap.Versions))
	for shotID, list := range snap.Versions {
		if sh, _ := p.FindShot(shotID); sh == nil {
			continue
		}
		out := make([]*models.ShotVersion, 0, len(list))
		for _, v := range list {
			v := v
			v.ShotID = shotID
			out = append(out, &v)
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
		versions[shotID] = out
	}
	p.Versions = versions

	flowPointers := pointers(snapsFlowShots(snaps))
	compPointers := pointers(snap.Shots)
	for _, sh := range p.OrderedShots() {
		kept, c := reconcileCurrentVersion(p, sh.ID, flowPointers[sh.ID], compPointers[sh.ID])
		if c != nil {
			conflicts = append(conflicts, *c)
		}
		sh.CurrentVersionID = kept
	}
	p.ApplyContinuity()
	return conflicts, nil
}

// reconcileCurrentVersion picks the current version of a shot from the flow
// design pointer (updated by the backend after prompt synthesis) and the
// composition pointer. On disagreement the valid candidate with the highest
// version number wins; with no valid candidate the newest version is used.
func reconcileCurrentVersion(p *models.Project, shotID, fromFlow, fromComp string) (string, *Conflict) {
	valid := func(id string) *models.ShotVersion {
		if id == "" {
			return nil
		}
		v, _ := p.FindVersion(shotID, id)
		return v
	}
	vf, vc := valid(fromFlow), valid(fromComp)
	var kept string
	switch {
	case vf != nil && vc != nil:
		kept = vf.ID
		if vc.VersionNumber > vf.VersionNumber {
			kept = vc.ID
		}
	case vf != nil:
		kept = vf.ID
	case vc != nil:
		kept = vc.ID
	default:
		if latest := p.LatestVersion(shotID); latest != nil {
			kept = latest.ID
		}
	}
	if fromFlow == fromComp && fromFlow == kept {
		return kept, nil
	}
	if fromFlow == "" && fromComp == kept {
		return kept, nil
	}
	if fromComp == "" && fromFlow == kept {
		return kept, nil
	}
	if fromFlow == "" && fromComp == "" && kept == "" {
		return kept, nil
	}
	return kept, &Conflict{
		Stage: models.StageComposition, Entity: "shot", ID: shotID, Field: "currentVersionId",
		Live: fromFlow, Incoming: fromComp, Kept: kept,
	}
}

// applySoundscape owns loop counts, shot audio fields and soundscape settings.
func applySoundscape(p *models.Project, snaps models.Snapshots) ([]Conflict, error) {
	snap := snaps.Soundscape
	conflicts := mergeLoops(p, snap, true)
	p.Soundscape = snap.Settings
	p.Soundscape.LoopSettingsLocked = snap.LoopSettingsLocked
	return conflicts, nil
}

// mergeLoops takes scene and shot loop counts from snap. Shot audio fields are
// replaced when withAudio is set, otherwise only when snap carries a value.
func mergeLoops(p *models.Project, snap *models.SoundscapeSlice, withAudio bool) []Conflict {
	var conflicts []Conflict
	for _, in := range snap.ScenesWithLoops {
		sc, _ := p.FindScene(in.ID)
		if sc == nil {
			conflicts = append(conflicts, Conflict{Stage: models.StageSoundscape, Entity: "scene", ID: in.ID, Field: "loopCount", Incoming: loopValue(in.LoopCount), Kept: "(unknown scene)"})
			continue
		}
		if in.LoopCount != nil {
			n := *in.LoopCount
			sc.LoopCount = &n
		}
	}
	for _, shots := range snap.ShotsWithLoops {
		for _, in := range shots {
			sh, _ := p.FindShot(in.ID)
			if sh == nil {
				conflicts = append(conflicts, Conflict{Stage: models.StageSoundscape, Entity: "shot", ID: in.ID, Field: "loopCount", Incoming: loopValue(in.LoopCount), Kept: "(unknown shot)"})
				continue
			}
			if in.LoopCount != nil {
				n := *in.LoopCount
				sh.LoopCount = &n
			}
			if withAudio || in.SoundEffectDescription != "" {
				sh.SoundEffectDescription = in.SoundEffectDescription
			}
			if withAudio || in.SoundEffectURL != "" {
				sh.SoundEffectURL = in.SoundEffectURL
			}
		}
	}
	return conflicts
}

func applyExport(p *models.Project, snaps models.Snapshots) ([]Conflict, error) {
	p.Export = snaps.Export.ExportSettings
	return nil, nil
}

// applyStructure replaces scene and shot identity/ordering with the snapshot's
// copy. Fields owned by the soundscape stage are never taken from it: they are
// carried over from the live model, or left empty.
func applyStructure(p *models.Project, stage models.Stage, scenes []models.Scene, shots map[string][]models.Shot) ([]Conflict, error) {
	var conflicts []Conflict
	liveScenes := make(map[string]*models.Scene, len(p.Scenes))
	for _, sc := range p.Scenes {
		liveScenes[sc.ID] = sc
	}
	liveShots := make(map[string]*models.Shot)
	for _, sh := range p.OrderedShots() {
		liveShots[sh.ID] = sh
	}

	ordered := append([]models.Scene(nil), scenes...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SceneNumber < ordered[j].SceneNumber })

	seen := make(map[string]bool, len(ordered))
	newScenes := make([]*models.Scene, 0, len(ordered))
	newShots := make(map[string][]*models.Shot, len(ordered))
	seenShots := make(map[string]bool)
	for _, in := range ordered {
		if in.ID == "" || seen[in.ID] {
			return conflicts, fmt.Errorf("scene list has a missing or duplicate id %q", in.ID)
		}
		seen[in.ID] = true
		sc := in
		sc.LoopCount = nil
		if live, ok := liveScenes[sc.ID]; ok && live.LoopCount != nil {
			n := *live.LoopCount
			sc.LoopCount = &n
		}
		if in.LoopCount != nil && (sc.LoopCount == nil || *sc.LoopCount != *in.LoopCount) {
			conflicts = append(conflicts, discarded(stage, "scene", sc.ID, "loopCount", loopValue(sc.LoopCount), *in.LoopCount))
		}
		newScenes = append(newScenes, &sc)

		list := append([]models.Shot(nil), shots[sc.ID]...)
		sort.SliceStable(list, func(i, j int) bool { return list[i].ShotNumber < list[j].ShotNumber })
		out := make([]*models.Shot, 0, len(list))
		for _, inShot := range list {
			if inShot.ID == "" || seenShots[inShot.ID] {
				return conflicts, fmt.Errorf("shot list of scene %s has a missing or duplicate id %q", sc.ID, inShot.ID)
			}
			seenShots[inShot.ID] = true
			sh := inShot
			sh.SceneID = sc.ID
			live := liveShots[sh.ID]
			conflicts = append(conflicts, strippedAudio(stage, &inShot, live)...)
			sh.StripLaterConcerns()
			if live != nil {
				if live.LoopCount != nil {
					n := *live.LoopCount
					sh.LoopCount = &n
				}
				sh.SoundEffectDescription = live.SoundEffectDescription
				sh.SoundEffectURL = live.SoundEffectURL
				// A pointer already reconciled against the version list wins.
				if v, _ := p.FindVersion(sh.ID, live.CurrentVersionID); v != nil && live.CurrentVersionID != "" {
					sh.CurrentVersionID = live.CurrentVersionID
				}
			}
			out = append(out, &sh)
		}
		newShots[sc.ID] = out
	}
	for sceneID, list := range shots {
		if !seen[sceneID] && len(list) > 0 {
			conflicts = append(conflicts, Conflict{Stage: stage, Entity: "scene", ID: sceneID, Field: "shots", Incoming: len(list), Kept: "(unknown scene, dropped)"})
		}
	}

	p.Scenes = newScenes
	p.Shots = newShots
	p.RenumberScenes()
	for _, sc := range p.Scenes {
		p.RenumberShots(sc.ID)
	}
	for shotID := range p.Versions {
		if !seenShots[shotID] {
			delete(p.Versions, shotID)
		}
	}
	for sceneID := range p.Groups {
		if !seen[sceneID] {
			delete(p.Groups, sceneID)
		}
	}
	return conflicts, nil
}

func strippedAudio(stage models.Stage, in, live *models.Shot) []Conflict {
	var liveURL, liveDesc string
	var liveLoop *int
	if live != nil {
		liveURL, liveDesc, liveLoop = live.SoundEffectURL, live.SoundEffectDescription, live.LoopCount
	}
	var out []Conflict
	if in.SoundEffectURL != "" && in.SoundEffectURL != liveURL {
		out = append(out, discarded(stage, "shot", in.ID, "soundEffectUrl", liveURL, in.SoundEffectURL))
	}
	if in.SoundEffectDescription != "" && in.SoundEffectDescription != liveDesc {
		out = append(out, discarded(stage, "shot", in.ID, "soundEffectDescription", liveDesc, in.SoundEffectDescription))
	}
	if in.LoopCount != nil && (liveLoop == nil || *liveLoop != *in.LoopCount) {
		out = append(out, discarded(stage, "shot", in.ID, "loopCount", loopValue(liveLoop), *in.LoopCount))
	}
	return out
}

func discarded(stage models.Stage, entity, id, field string, live, incoming any) Conflict {
	return Conflict{Stage: stage, Entity: entity, ID: id, Field: field, Live: live, Incoming: incoming, Kept: live}
}

func loopValue(v *int) any {
	if v == nil {
		return "unset"
	}
	return *v
}

func knownShots(p *models.Project, sceneID string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if sh, _ := p.FindShot(id); sh != nil && sh.SceneID == sceneID {
			out = append(out, id)
		}
	}
	return out
}

func snapsFlowShots(snaps models.Snapshots) map[string][]models.Shot {
	if snaps.FlowDesign == nil {
		return nil
	}
	return snaps.FlowDesign.Shots
}

func pointers(shots map[string][]models.Shot) map[string]string {
	out := make(map[string]string)
	for _, list := range shots {
		for _, sh := range list {
			out[sh.ID] = sh.CurrentVersionID
		}
	}
	return out
}
