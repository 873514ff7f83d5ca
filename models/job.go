package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Generation job states.
const (
	JobStatusIdle      = "idle"
	JobStatusSubmitted = "submitted"
	JobStatusPolling   = "polling"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Generation job kinds.
const (
	JobSingleImage     = "single-image"
	JobBatchImage      = "batch-image"
	JobSingleVideo     = "single-video"
	JobBatchVideo      = "batch-video"
	JobSoundEffect     = "sound-effect"
	JobVoiceoverScript = "voiceover-script"
	JobVoiceoverAudio  = "voiceover-audio"
	JobMusic           = "music"
	JobFlowDesign      = "flow-design"
	JobPromptSynthesis = "prompt-synthesis"
)

// JobRecord is the journal row of one generation job.
type JobRecord struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Key         string         `gorm:"type:varchar(191);index" json:"key"`
	VideoID     string         `gorm:"type:varchar(64);index" json:"videoId"`
	Kind        string         `gorm:"type:varchar(32)" json:"kind"`
	Status      string         `gorm:"type:varchar(16)" json:"status"`
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Outstanding datatypes.JSON `json:"outstanding"`
	FailedItems datatypes.JSON `json:"failedItems"`
	Error       string         `json:"error"`
	StartedAt   *time.Time     `json:"startedAt"`
	FinishedAt  *time.Time     `json:"finishedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (JobRecord) TableName() string {
	return "generation_job"
}

// SetOutstanding stores the outstanding item ids as JSON.
func (r *JobRecord) SetOutstanding(ids []string) {
	b, _ := json.Marshal(ids)
	r.Outstanding = datatypes.JSON(b)
}

// SetFailedItems stores item id -> failure message as JSON.
func (r *JobRecord) SetFailedItems(items map[string]string) {
	b, _ := json.Marshal(items)
	r.FailedItems = datatypes.JSON(b)
}

// JobJournal mirrors tracker state changes into the generation_job table.
type JobJournal struct {
	DB *gorm.DB
}

func NewJobJournal(db *gorm.DB) *JobJournal {
	return &JobJournal{DB: db}
}

// Record upserts rec by id.
func (j *JobJournal) Record(ctx context.Context, rec JobRecord) error {
	err := j.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "completed", "outstanding", "failed_items", "error", "started_at", "finished_at", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("record job %s: %w", rec.ID, err)
	}
	return nil
}

// ListByVideo returns a video's jobs, newest first.
func (j *JobJournal) ListByVideo(ctx context.Context, videoID string) ([]JobRecord, error) {
	var out []JobRecord
	if err := j.DB.WithContext(ctx).Where("video_id = ?", videoID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list jobs %s: %w", videoID, err)
	}
	return out, nil
}
