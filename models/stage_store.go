package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VideoProgress tracks the furthest stage a video has been saved through.
type VideoProgress struct {
	VideoID      string    `gorm:"primaryKey;type:varchar(64)" json:"videoId"`
	CurrentStage int       `json:"currentStage"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (VideoProgress) TableName() string {
	return "video_progress"
}

// StageRecord holds the latest persisted slice of one stage of one video.
type StageRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	VideoID   string         `gorm:"type:varchar(64);uniqueIndex:idx_video_stage,priority:1" json:"videoId"`
	Stage     int            `gorm:"uniqueIndex:idx_video_stage,priority:2" json:"stage"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (StageRecord) TableName() string {
	return "stage_snapshot"
}

// StageStore persists stage slices in MySQL. It is the stand-alone
// alternative to the remote video backend and performs the same server-side
// work, including loop initialisation on the stage 4 to 5 transition.
type StageStore struct {
	DB *gorm.DB
}

func NewStageStore(db *gorm.DB) *StageStore {
	return &StageStore{DB: db}
}

// SaveStage writes a stage slice and advances the video's progress past it.
func (s *StageStore) SaveStage(ctx context.Context, videoID string, slice StageSlice) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := putRecord(tx, videoID, slice); err != nil {
			return err
		}
		return advanceProgress(tx, videoID, slice.SliceStage()+1)
	})
}

// SaveSettings writes a stage slice without touching progress.
func (s *StageStore) SaveSettings(ctx context.Context, videoID string, slice StageSlice) error {
	return putRecord(s.DB.WithContext(ctx), videoID, slice)
}

// ContinueToSoundscape finalises composition and returns the initialised
// soundscape slice. Loop counts and audio fields already stored for stage 5
// are kept; everything else starts at a loop count of 1.
func (s *StageStore) ContinueToSoundscape(ctx context.Context, videoID string, slice *CompositionSlice) (*SoundscapeSlice, error) {
	var out *SoundscapeSlice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := putRecord(tx, videoID, slice); err != nil {
			return err
		}
		prev := &SoundscapeSlice{}
		found, err := getRecord(tx, videoID, StageSoundscape, prev)
		if err != nil {
			return err
		}
		if !found {
			prev = nil
		}
		out = initSoundscape(slice, prev)
		if err := putRecord(tx, videoID, out); err != nil {
			return err
		}
		return advanceProgress(tx, videoID, StageSoundscape)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *StageStore) ContinueToPreview(ctx context.Context, videoID string, slice *SoundscapeSlice) error {
	return s.SaveStage(ctx, videoID, slice)
}

// LoadSnapshots returns every stored slice of a video.
func (s *StageStore) LoadSnapshots(ctx context.Context, videoID string) (Snapshots, error) {
	snaps := Snapshots{VideoID: videoID, CurrentStage: StageAtmosphere}
	var progress VideoProgress
	err := s.DB.WithContext(ctx).First(&progress, "video_id = ?", videoID).Error
	switch {
	case err == nil:
		snaps.CurrentStage = Stage(progress.CurrentStage)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return snaps, fmt.Errorf("load progress %s: %w", videoID, err)
	}
	var records []StageRecord
	if err := s.DB.WithContext(ctx).Where("video_id = ?", videoID).Order("stage ASC").Find(&records).Error; err != nil {
		return snaps, fmt.Errorf("load stages %s: %w", videoID, err)
	}
	for _, rec := range records {
		slice := emptySlice(Stage(rec.Stage))
		if slice == nil {
			continue
		}
		if err := json.Unmarshal(rec.Payload, slice); err != nil {
			return snaps, fmt.Errorf("decode stage %d of %s: %w", rec.Stage, videoID, err)
		}
		snaps.Put(slice)
	}
	if !snaps.CurrentStage.Valid() {
		snaps.CurrentStage = StageAtmosphere
	}
	return snaps, nil
}

func emptySlice(stage Stage) StageSlice {
	switch stage {
	case StageAtmosphere:
		return &AtmosphereSlice{}
	case StageVisualWorld:
		return &VisualWorldSlice{}
	case StageFlowDesign:
		return &FlowDesignSlice{}
	case StageComposition:
		return &CompositionSlice{}
	case StageSoundscape:
		return &SoundscapeSlice{}
	case StageExport:
		return &ExportSlice{}
	}
	return nil
}

func putRecord(tx *gorm.DB, videoID string, slice StageSlice) error {
	payload, err := json.Marshal(slice)
	if err != nil {
		return fmt.Errorf("encode stage %d: %w", slice.SliceStage(), err)
	}
	rec := StageRecord{VideoID: videoID, Stage: int(slice.SliceStage()), Payload: datatypes.JSON(payload)}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save stage %d of %s: %w", rec.Stage, videoID, err)
	}
	return nil
}

func getRecord(tx *gorm.DB, videoID string, stage Stage, into StageSlice) (bool, error) {
	var rec StageRecord
	err := tx.Where("video_id = ? AND stage = ?", videoID, int(stage)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load stage %d of %s: %w", stage, videoID, err)
	}
	if err := json.Unmarshal(rec.Payload, into); err != nil {
		return false, fmt.Errorf("decode stage %d of %s: %w", stage, videoID, err)
	}
	return true, nil
}

func advanceProgress(tx *gorm.DB, videoID string, next Stage) error {
	if next > LastStage {
		next = LastStage
	}
	var progress VideoProgress
	err := tx.First(&progress, "video_id = ?", videoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&VideoProgress{VideoID: videoID, CurrentStage: int(next)}).Error
	}
	if err != nil {
		return fmt.Errorf("load progress %s: %w", videoID, err)
	}
	if progress.CurrentStage >= int(next) {
		return nil
	}
	return tx.Model(&progress).Update("current_stage", int(next)).Error
}

func initSoundscape(comp *CompositionSlice, prev *SoundscapeSlice) *SoundscapeSlice {
	prevScenes := map[string]Scene{}
	prevShots := map[string]Shot{}
	out := &SoundscapeSlice{ShotsWithLoops: make(map[string][]Shot, len(comp.Shots))}
	if prev != nil {
		for _, sc := range prev.ScenesWithLoops {
			prevScenes[sc.ID] = sc
		}
		for _, shots := range prev.ShotsWithLoops {
			for _, sh := range shots {
				prevShots[sh.ID] = sh
			}
		}
		out.LoopSettingsLocked = prev.LoopSettingsLocked
		out.Settings = prev.Settings
	}
	for _, sc := range comp.Scenes {
		loop := 1
		if p, ok := prevScenes[sc.ID]; ok && p.LoopCount != nil {
			loop = *p.LoopCount
		}
		sc.LoopCount = &loop
		out.ScenesWithLoops = append(out.ScenesWithLoops, sc)
	}
	for sceneID, shots := range comp.Shots {
		for _, sh := range shots {
			sh.StripLaterConcerns()
			loop := 1
			if p, ok := prevShots[sh.ID]; ok {
				if p.LoopCount != nil {
					loop = *p.LoopCount
				}
				sh.SoundEffectDescription = p.SoundEffectDescription
				sh.SoundEffectURL = p.SoundEffectURL
			}
			sh.LoopCount = &loop
			out.ShotsWithLoops[sceneID] = append(out.ShotsWithLoops[sceneID], sh)
		}
	}
	out.Settings.LoopSettingsLocked = out.LoopSettingsLocked
	return out
}
