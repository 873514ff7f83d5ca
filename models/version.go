package models

import (
	"fmt"
	"time"
)

const (
	VersionStatusPending    = "pending"
	VersionStatusProcessing = "processing"
	VersionStatusCompleted  = "completed"
	VersionStatusFailed     = "failed"
)

// ShotVersion is one generated attempt for a shot. Which URL fields are
// populated depends on the transport mode it was generated under.
type ShotVersion struct {
	ID            string `json:"id"`
	ShotID        string `json:"shotId"`
	VersionNumber int    `json:"versionNumber"`

	ImageURL    string `json:"imageUrl,omitempty"`
	ImagePrompt string `json:"imagePrompt,omitempty"`

	StartFrameURL    string `json:"startFrameUrl,omitempty"`
	EndFrameURL      string `json:"endFrameUrl,omitempty"`
	VideoURL         string `json:"videoUrl,omitempty"`
	StartFramePrompt string `json:"startFramePrompt,omitempty"`
	EndFramePrompt   string `json:"endFramePrompt,omitempty"`
	VideoPrompt      string `json:"videoPrompt,omitempty"`

	Status              string    `json:"status"`
	StartFrameInherited bool      `json:"startFrameInherited"`
	CreatedAt           time.Time `json:"createdAt"`
}

// HasMedia reports whether the version carries the artifact mode requires.
func (v *ShotVersion) HasMedia(mode TransportMode) bool {
	if v == nil {
		return false
	}
	switch mode {
	case ModeStartFrame:
		return v.StartFrameURL != ""
	case ModeStartEndFrame:
		return v.StartFrameURL != "" && v.EndFrameURL != ""
	default:
		return v.ImageURL != ""
	}
}

func (p *Project) FindVersion(shotID, versionID string) (*ShotVersion, int) {
	for i, v := range p.Versions[shotID] {
		if v.ID == versionID {
			return v, i
		}
	}
	return nil, -1
}

// CurrentVersion returns the version referenced by the shot's pointer, or nil.
func (p *Project) CurrentVersion(shotID string) *ShotVersion {
	shot, _ := p.FindShot(shotID)
	if shot == nil || shot.CurrentVersionID == "" {
		return nil
	}
	v, _ := p.FindVersion(shotID, shot.CurrentVersionID)
	return v
}

// LatestVersion returns the version with the highest version number.
func (p *Project) LatestVersion(shotID string) *ShotVersion {
	var latest *ShotVersion
	for _, v := range p.Versions[shotID] {
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	return latest
}

// AppendVersion numbers v after the shot's newest version, stores it and
// makes it current.
func (p *Project) AppendVersion(v *ShotVersion) error {
	shot, _ := p.FindShot(v.ShotID)
	if shot == nil {
		return fmt.Errorf("append version: shot %s: %w", v.ShotID, ErrNotFound)
	}
	if latest := p.LatestVersion(v.ShotID); latest != nil {
		v.VersionNumber = latest.VersionNumber + 1
	} else {
		v.VersionNumber = 1
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	p.Versions[v.ShotID] = append(p.Versions[v.ShotID], v)
	shot.CurrentVersionID = v.ID
	p.applyContinuityToShot(shot)
	return nil
}

// PutVersion replaces the payload of an existing version in place (re-generation
// reuses the id) or appends it when the id is new.
func (p *Project) PutVersion(v *ShotVersion) error {
	if existing, idx := p.FindVersion(v.ShotID, v.ID); existing != nil {
		if v.VersionNumber == 0 {
			v.VersionNumber = existing.VersionNumber
		}
		p.Versions[v.ShotID][idx] = v
		if shot, _ := p.FindShot(v.ShotID); shot != nil {
			p.applyContinuityToShot(shot)
		}
		return nil
	}
	if v.VersionNumber == 0 {
		return p.AppendVersion(v)
	}
	shot, _ := p.FindShot(v.ShotID)
	if shot == nil {
		return fmt.Errorf("put version: shot %s: %w", v.ShotID, ErrNotFound)
	}
	p.Versions[v.ShotID] = append(p.Versions[v.ShotID], v)
	shot.CurrentVersionID = v.ID
	p.applyContinuityToShot(shot)
	return nil
}

// DeleteVersion removes a version unless it is the shot's current version.
func (p *Project) DeleteVersion(shotID, versionID string) error {
	shot, _ := p.FindShot(shotID)
	if shot == nil {
		return fmt.Errorf("delete version: shot %s: %w", shotID, ErrNotFound)
	}
	_, idx := p.FindVersion(shotID, versionID)
	if idx < 0 {
		return fmt.Errorf("delete version %s: %w", versionID, ErrNotFound)
	}
	if shot.CurrentVersionID == versionID {
		return fmt.Errorf("delete version %s: %w", versionID, ErrCurrentVersion)
	}
	list := p.Versions[shotID]
	p.Versions[shotID] = append(list[:idx], list[idx+1:]...)
	return nil
}

// SetCurrentVersion points the shot at one of its own versions.
func (p *Project) SetCurrentVersion(shotID, versionID string) error {
	shot, _ := p.FindShot(shotID)
	if shot == nil {
		return fmt.Errorf("set current version: shot %s: %w", shotID, ErrNotFound)
	}
	if v, _ := p.FindVersion(shotID, versionID); v == nil {
		return fmt.Errorf("set current version %s: %w", versionID, ErrForeignVersion)
	}
	shot.CurrentVersionID = versionID
	p.ApplyContinuity()
	return nil
}

// SetStartFramePrompt edits the start-frame prompt of the shot's current
// version. Inherited start frames are read-only.
func (p *Project) SetStartFramePrompt(shotID, prompt string) error {
	v := p.CurrentVersion(shotID)
	if v == nil {
		return fmt.Errorf("shot %s has no current version: %w", shotID, ErrNotFound)
	}
	if v.StartFrameInherited || p.StartFrameInherited(shotID) {
		return fmt.Errorf("shot %s: %w", shotID, ErrInheritedStartFrame)
	}
	v.StartFramePrompt = prompt
	return nil
}
