package models

import (
	"fmt"
	"time"
)

type GroupStatus string

const (
	GroupProposed GroupStatus = "proposed"
	GroupApproved GroupStatus = "approved"
	GroupRejected GroupStatus = "rejected"
)

// ContinuityGroup is an ordered run of shots in one scene that forms a single
// unbroken visual sequence. Only the first shot generates its own start frame.
type ContinuityGroup struct {
	ID         string      `json:"id"`
	SceneID    string      `json:"sceneId"`
	ShotIDs    []string    `json:"shotIds"`
	Status     GroupStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	EditedAt   *time.Time  `json:"editedAt,omitempty"`
	ApprovedAt *time.Time  `json:"approvedAt,omitempty"`
}

func (g *ContinuityGroup) clone() *ContinuityGroup {
	cp := *g
	cp.ShotIDs = cloneStrings(g.ShotIDs)
	cp.EditedAt = cloneTime(g.EditedAt)
	cp.ApprovedAt = cloneTime(g.ApprovedAt)
	return &cp
}

func (g *ContinuityGroup) indexOf(shotID string) int {
	for i, id := range g.ShotIDs {
		if id == shotID {
			return i
		}
	}
	return -1
}

func (g *ContinuityGroup) removeShot(shotID string) {
	if i := g.indexOf(shotID); i >= 0 {
		g.ShotIDs = append(g.ShotIDs[:i], g.ShotIDs[i+1:]...)
	}
}

func (p *Project) FindGroup(id string) *ContinuityGroup {
	for _, sc := range p.Scenes {
		for _, g := range p.Groups[sc.ID] {
			if g.ID == id {
				return g
			}
		}
	}
	return nil
}

// AllGroups returns every continuity group in scene order.
func (p *Project) AllGroups() []*ContinuityGroup {
	var out []*ContinuityGroup
	for _, sc := range p.Scenes {
		out = append(out, p.Groups[sc.ID]...)
	}
	return out
}

// ApprovedGroupFor returns the approved group containing shotID and the
// shot's position inside it.
func (p *Project) ApprovedGroupFor(shotID string) (*ContinuityGroup, int) {
	shot, _ := p.FindShot(shotID)
	if shot == nil {
		return nil, -1
	}
	for _, g := range p.Groups[shot.SceneID] {
		if g.Status != GroupApproved {
			continue
		}
		if i := g.indexOf(shotID); i >= 0 {
			return g, i
		}
	}
	return nil, -1
}

// StartFrameInherited is true for every shot that is in an approved group
// but not first in it.
func (p *Project) StartFrameInherited(shotID string) bool {
	g, i := p.ApprovedGroupFor(shotID)
	return g != nil && i > 0
}

func (p *Project) ApproveGroup(id string, now time.Time) error {
	g := p.FindGroup(id)
	if g == nil {
		return fmt.Errorf("approve group %s: %w", id, ErrNotFound)
	}
	for _, other := range p.Groups[g.SceneID] {
		if other == g || other.Status != GroupApproved {
			continue
		}
		for _, shotID := range g.ShotIDs {
			if other.indexOf(shotID) >= 0 {
				return fmt.Errorf("approve group %s: shot %s: %w", id, shotID, ErrGroupOverlap)
			}
		}
	}
	g.Status = GroupApproved
	g.ApprovedAt = &now
	p.applyContinuityInScene(g.SceneID)
	return nil
}

func (p *Project) RejectGroup(id string, now time.Time) error {
	g := p.FindGroup(id)
	if g == nil {
		return fmt.Errorf("reject group %s: %w", id, ErrNotFound)
	}
	g.Status = GroupRejected
	g.ApprovedAt = nil
	g.EditedAt = &now
	p.applyContinuityInScene(g.SceneID)
	return nil
}

// EditGroup replaces the shot list of a group. The edited group goes back to
// proposed and needs approval again.
func (p *Project) EditGroup(id string, shotIDs []string, now time.Time) error {
	g := p.FindGroup(id)
	if g == nil {
		return fmt.Errorf("edit group %s: %w", id, ErrNotFound)
	}
	for _, shotID := range shotIDs {
		shot, _ := p.FindShot(shotID)
		if shot == nil || shot.SceneID != g.SceneID {
			return fmt.Errorf("edit group %s: shot %s not in scene %s: %w", id, shotID, g.SceneID, ErrNotFound)
		}
	}
	g.ShotIDs = cloneStrings(shotIDs)
	g.Status = GroupProposed
	g.ApprovedAt = nil
	g.EditedAt = &now
	p.applyContinuityInScene(g.SceneID)
	return nil
}

// ApplyContinuity copies each approved group member's start frame from its
// predecessor's end frame and flags inherited versions.
func (p *Project) ApplyContinuity() {
	for _, sc := range p.Scenes {
		p.applyContinuityInScene(sc.ID)
	}
}

func (p *Project) applyContinuityToShot(shot *Shot) {
	p.applyContinuityInScene(shot.SceneID)
}

func (p *Project) applyContinuityInScene(sceneID string) {
	inherited := make(map[string]string)
	for _, g := range p.Groups[sceneID] {
		if g.Status != GroupApproved {
			continue
		}
		for i := 1; i < len(g.ShotIDs); i++ {
			inherited[g.ShotIDs[i]] = g.ShotIDs[i-1]
		}
	}
	for _, shot := range p.Shots[sceneID] {
		prevID, ok := inherited[shot.ID]
		for _, v := range p.Versions[shot.ID] {
			v.StartFrameInherited = ok
		}
		if !ok {
			continue
		}
		cur := p.CurrentVersion(shot.ID)
		prev := p.CurrentVersion(prevID)
		if cur != nil && prev != nil && prev.EndFrameURL != "" {
			cur.StartFrameURL = prev.EndFrameURL
		}
	}
}
