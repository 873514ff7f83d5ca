package models

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestStageStoreRoundTripsSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewStageStore(openTestDB(t))
	p := newTestProject(t, map[string][]string{"s1": {"a", "b"}})
	p.Atmosphere.Settings.Mood = "calm"
	p.Atmosphere.SetDescription("still water")
	p.VisualWorld.Mode = ModeStartFrame

	for _, stage := range []Stage{StageAtmosphere, StageVisualWorld, StageFlowDesign} {
		if err := store.SaveStage(ctx, p.VideoID, p.Slice(stage)); err != nil {
			t.Fatalf("save stage %s: %v", stage, err)
		}
	}
	snaps, err := store.LoadSnapshots(ctx, p.VideoID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snaps.CurrentStage != StageComposition {
		t.Fatalf("expected progress at composition, got %s", snaps.CurrentStage)
	}
	if snaps.Atmosphere == nil || snaps.Atmosphere.Description != "still water" {
		t.Fatalf("atmosphere not restored: %+v", snaps.Atmosphere)
	}
	if snaps.VisualWorld == nil || snaps.VisualWorld.Mode != ModeStartFrame {
		t.Fatalf("visual world not restored: %+v", snaps.VisualWorld)
	}
	if snaps.FlowDesign == nil || len(snaps.FlowDesign.Shots["s1"]) != 2 {
		t.Fatalf("flow design not restored: %+v", snaps.FlowDesign)
	}

	p.Atmosphere.Description = "rough sea"
	if err := store.SaveSettings(ctx, p.VideoID, p.Slice(StageAtmosphere)); err != nil {
		t.Fatal(err)
	}
	snaps, err = store.LoadSnapshots(ctx, p.VideoID)
	if err != nil {
		t.Fatal(err)
	}
	if snaps.Atmosphere.Description != "rough sea" {
		t.Fatalf("expected overwrite, got %q", snaps.Atmosphere.Description)
	}
	if snaps.CurrentStage != StageComposition {
		t.Fatalf("settings save must not move progress, got %s", snaps.CurrentStage)
	}
}

func TestStageStoreInitialisesLoopsOnContinueToSoundscape(t *testing.T) {
	ctx := context.Background()
	store := NewStageStore(openTestDB(t))
	p := newTestProject(t, map[string][]string{"s1": {"a", "b"}})
	p.Shots["s1"][0].SoundEffectURL = "legacy.mp3"

	out, err := store.ContinueToSoundscape(ctx, p.VideoID, p.Slice(StageComposition).(*CompositionSlice))
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if len(out.ScenesWithLoops) != 1 || out.ScenesWithLoops[0].LoopCount == nil || *out.ScenesWithLoops[0].LoopCount != 1 {
		t.Fatalf("scene loops not initialised: %+v", out.ScenesWithLoops)
	}
	for _, sh := range out.ShotsWithLoops["s1"] {
		if sh.LoopCount == nil || *sh.LoopCount != 1 {
			t.Fatalf("shot %s loop not initialised", sh.ID)
		}
		if sh.SoundEffectURL != "" {
			t.Fatalf("composition audio fields must not leak into soundscape")
		}
	}

	out.ShotsWithLoops["s1"][1].SoundEffectURL = "wind.mp3"
	three := 3
	out.ScenesWithLoops[0].LoopCount = &three
	if err := store.SaveSettings(ctx, p.VideoID, out); err != nil {
		t.Fatal(err)
	}
	again, err := store.ContinueToSoundscape(ctx, p.VideoID, p.Slice(StageComposition).(*CompositionSlice))
	if err != nil {
		t.Fatal(err)
	}
	if *again.ScenesWithLoops[0].LoopCount != 3 {
		t.Fatalf("existing scene loop count should survive, got %d", *again.ScenesWithLoops[0].LoopCount)
	}
	if again.ShotsWithLoops["s1"][1].SoundEffectURL != "wind.mp3" {
		t.Fatalf("existing sound effect should survive")
	}
}

func TestJobJournalUpsertsByID(t *testing.T) {
	ctx := context.Background()
	journal := NewJobJournal(openTestDB(t))
	rec := JobRecord{ID: "job-1", Key: "batch-image:video-1", VideoID: "video-1", Kind: JobBatchImage, Status: JobStatusPolling, Total: 5}
	rec.SetOutstanding([]string{"a", "b"})
	if err := journal.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Status = JobStatusCompleted
	rec.Completed = 5
	rec.SetOutstanding(nil)
	if err := journal.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}
	list, err := journal.ListByVideo(ctx, "video-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status != JobStatusCompleted || list[0].Completed != 5 {
		t.Fatalf("unexpected journal: %+v", list)
	}
}
