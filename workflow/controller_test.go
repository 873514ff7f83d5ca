package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"StoryToVideo-studio/models"
	"StoryToVideo-studio/persistence"
	"StoryToVideo-studio/validation"
)

type memStore struct {
	mu           sync.Mutex
	snaps        models.Snapshots
	saved        []models.StageSlice
	settings     []models.StageSlice
	soundscape   *models.SoundscapeSlice
	failSave     error
	failSettings error
}

func (m *memStore) SaveStage(ctx context.Context, videoID string, slice models.StageSlice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.saved = append(m.saved, slice)
	m.snaps.Put(slice)
	if next := slice.SliceStage() + 1; next > m.snaps.CurrentStage {
		m.snaps.CurrentStage = next
	}
	return nil
}

func (m *memStore) SaveSettings(ctx context.Context, videoID string, slice models.StageSlice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSettings != nil {
		return m.failSettings
	}
	m.settings = append(m.settings, slice)
	m.snaps.Put(slice)
	return nil
}

func (m *memStore) ContinueToSoundscape(ctx context.Context, videoID string, slice *models.CompositionSlice) (*models.SoundscapeSlice, error) {
	if err := m.SaveStage(ctx, videoID, slice); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps.Soundscape == nil {
		m.snaps.Soundscape = m.soundscape
	}
	return m.soundscape, nil
}

func (m *memStore) ContinueToPreview(ctx context.Context, videoID string, slice *models.SoundscapeSlice) error {
	return m.SaveStage(ctx, videoID, slice)
}

func (m *memStore) LoadSnapshots(ctx context.Context, videoID string) (models.Snapshots, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snaps
	s.VideoID = videoID
	return s, nil
}

func (m *memStore) settingsWrites() []models.StageSlice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StageSlice(nil), m.settings...)
}

type fakeGen struct {
	mu         sync.Mutex
	desc       string
	flow       *models.FlowDesignSlice
	prompts    *models.BatchResult
	batch      *models.BatchResult
	shotResult *models.ShotResult
	project    models.Snapshots
	voiceover  string
	failWith   error
	fetch      func(ctx context.Context, videoID string) (models.Snapshots, error)
}

func (g *fakeGen) DescribeAtmosphere(ctx context.Context, videoID string, settings models.AtmosphereSettings) (string, error) {
	return g.desc, g.failWith
}

func (g *fakeGen) GenerateFlowDesign(ctx context.Context, videoID string) (*models.FlowDesignSlice, error) {
	return g.flow, g.failWith
}

func (g *fakeGen) GenerateContinuityGroups(ctx context.Context, videoID string) (map[string][]models.ContinuityGroup, error) {
	return map[string][]models.ContinuityGroup{"s1": {{ShotIDs: []string{"a", "b"}}}}, g.failWith
}

func (g *fakeGen) GenerateAllPrompts(ctx context.Context, videoID string) (*models.BatchResult, error) {
	return g.prompts, g.failWith
}

func (g *fakeGen) GenerateAllImages(ctx context.Context, videoID string) (*models.BatchResult, error) {
	return g.batch, g.failWith
}

func (g *fakeGen) GenerateAllVideos(ctx context.Context, videoID string) (*models.BatchResult, error) {
	return g.batch, g.failWith
}

func (g *fakeGen) GenerateShotImage(ctx context.Context, shotID string, regenerate bool) (*models.ShotResult, error) {
	return g.shotResult, g.failWith
}

func (g *fakeGen) GenerateShotVideo(ctx context.Context, shotID string) (*models.ShotResult, error) {
	return g.shotResult, g.failWith
}

func (g *fakeGen) RecommendSoundEffect(ctx context.Context, shotID string) (string, error) {
	return "wind", g.failWith
}

func (g *fakeGen) GenerateSoundEffect(ctx context.Context, shotID, description string) (string, error) {
	return description + ".mp3", g.failWith
}

func (g *fakeGen) GenerateVoiceoverScript(ctx context.Context, videoID string) (string, error) {
	return "once upon a time", g.failWith
}

func (g *fakeGen) GenerateVoiceover(ctx context.Context, videoID, script string) (string, error) {
	return g.voiceover, g.failWith
}

func (g *fakeGen) GenerateMusic(ctx context.Context, videoID, prompt string) (string, error) {
	return "music.mp3", g.failWith
}

func (g *fakeGen) FetchProject(ctx context.Context, videoID string) (models.Snapshots, error) {
	if g.fetch != nil {
		return g.fetch(ctx, videoID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.project, nil
}

func (g *fakeGen) setProject(s models.Snapshots) {
	g.mu.Lock()
	g.project = s
	g.mu.Unlock()
}

type fakeMedia struct{ objects []string }

func (f *fakeMedia) Upload(ctx context.Context, objectName string, r io.Reader, size int64) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	f.objects = append(f.objects, objectName)
	return "https://media.local/" + objectName, nil
}

func describedAtmosphere() *models.AtmosphereSlice {
	a := models.Atmosphere{Settings: models.AtmosphereSettings{Mood: "calm", Duration: 30}}
	a.SetDescription("a calm evening")
	return &models.AtmosphereSlice{Atmosphere: a}
}

func twoShotFlow() *models.FlowDesignSlice {
	return &models.FlowDesignSlice{
		Scenes: []models.Scene{{ID: "s1", SceneNumber: 1, Title: "Dusk"}},
		Shots: map[string][]models.Shot{"s1": {
			{ID: "a", SceneID: "s1", ShotNumber: 1, Duration: 5},
			{ID: "b", SceneID: "s1", ShotNumber: 2, Duration: 5},
		}},
	}
}

// compositionOf builds a composition snapshot of twoShotFlow with the given
// versions, each made current for its shot.
func compositionOf(versions ...models.ShotVersion) *models.CompositionSlice {
	flow := twoShotFlow()
	comp := &models.CompositionSlice{
		Scenes:   flow.Scenes,
		Shots:    flow.Shots,
		Versions: make(map[string][]models.ShotVersion),
	}
	for _, v := range versions {
		comp.Versions[v.ShotID] = append(comp.Versions[v.ShotID], v)
		for i := range comp.Shots["s1"] {
			if comp.Shots["s1"][i].ID == v.ShotID {
				comp.Shots["s1"][i].CurrentVersionID = v.ID
			}
		}
	}
	return comp
}

func snapshotsAt(stage models.Stage) models.Snapshots {
	s := models.Snapshots{CurrentStage: stage}
	if stage > models.StageAtmosphere {
		s.Atmosphere = describedAtmosphere()
	}
	if stage > models.StageVisualWorld {
		s.VisualWorld = &models.VisualWorldSlice{VisualWorld: models.VisualWorld{Style: "watercolor", Mode: models.ModeImageTransition}}
		s.FlowDesign = twoShotFlow()
	}
	if stage > models.StageFlowDesign {
		s.Composition = compositionOf()
	}
	return s
}

func newTestController(t *testing.T, store *memStore, gen *fakeGen, media MediaStore) *Controller {
	t.Helper()
	c := New("video-1", Options{
		Store:     store,
		Generator: gen,
		Media:     media,
		Interval:  10 * time.Millisecond,
		Ceiling:   2 * time.Second,
		Debounce:  time.Hour,
	})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAdvanceBlockedByGate(t *testing.T) {
	store := &memStore{}
	c := newTestController(t, store, &fakeGen{}, nil)

	_, err := c.Advance(context.Background())
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if c.CurrentStage() != models.StageAtmosphere {
		t.Fatalf("expected to stay on atmosphere, got %s", c.CurrentStage())
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected no save, got %d", len(store.saved))
	}
}

func TestAdvanceStaysWhenSaveFails(t *testing.T) {
	store := &memStore{}
	gen := &fakeGen{desc: "misty dawn"}
	c := newTestController(t, store, gen, nil)
	ctx := context.Background()

	if err := c.SetAtmosphere(models.AtmosphereSettings{Mood: "misty"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GenerateMoodDescription(ctx); err != nil {
		t.Fatal(err)
	}

	store.failSave = errors.New("backend down")
	_, err := c.Advance(ctx)
	var perr *persistence.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if c.CurrentStage() != models.StageAtmosphere {
		t.Fatalf("expected to stay on atmosphere, got %s", c.CurrentStage())
	}

	store.failSave = nil
	next, err := c.Advance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next != models.StageVisualWorld || store.snaps.Atmosphere.Description != "misty dawn" {
		t.Fatalf("expected saved atmosphere and stage 2, got %s %+v", next, store.snaps.Atmosphere)
	}
}

func TestStaleDescriptionBlocksAdvance(t *testing.T) {
	c := newTestController(t, &memStore{}, &fakeGen{desc: "calm"}, nil)
	if _, err := c.GenerateMoodDescription(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAtmosphere(models.AtmosphereSettings{Mood: "tense"}); err != nil {
		t.Fatal(err)
	}
	res, _ := c.Validate(models.StageAtmosphere)
	if res.Passed || res.Unmet[0].Code != validation.CodeStaleDescription {
		t.Fatalf("expected stale description, got %+v", res)
	}
}

func TestLeavingVisualWorldGeneratesFlowDesign(t *testing.T) {
	snaps := snapshotsAt(models.StageVisualWorld)
	store := &memStore{snaps: snaps}
	gen := &fakeGen{flow: twoShotFlow()}
	c := newTestController(t, store, gen, nil)

	next, err := c.Advance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if next != models.StageFlowDesign {
		t.Fatalf("expected flow design, got %s", next)
	}
	v := c.View()
	if len(v.Project.Scenes) != 1 || v.Project.ShotCount() != 2 {
		t.Fatalf("expected generated structure, got %d scenes %d shots", len(v.Project.Scenes), v.Project.ShotCount())
	}
	if len(v.Jobs) != 1 || v.Jobs[0].Kind != models.JobFlowDesign || v.Jobs[0].Status != models.JobStatusCompleted {
		t.Fatalf("expected completed flow design job, got %+v", v.Jobs)
	}
}

func TestFlowDesignFailureKeepsStage(t *testing.T) {
	store := &memStore{snaps: snapshotsAt(models.StageVisualWorld)}
	gen := &fakeGen{failWith: errors.New("model overloaded")}
	c := newTestController(t, store, gen, nil)

	if _, err := c.Advance(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.CurrentStage() != models.StageVisualWorld {
		t.Fatalf("expected to stay on visual world, got %s", c.CurrentStage())
	}
}

func TestLeavingFlowDesignMergesPrompts(t *testing.T) {
	store := &memStore{snaps: snapshotsAt(models.StageFlowDesign)}
	store.snaps.Composition = nil
	gen := &fakeGen{prompts: &models.BatchResult{
		Succeeded: 1,
		Failed:    1,
		Items:     []models.ItemResult{{ShotID: "a", VersionID: "a-v1"}, {ShotID: "b", Error: "quota"}},
		Versions:  []models.ShotVersion{{ID: "a-v1", ShotID: "a", VersionNumber: 1, ImagePrompt: "dusk over hills"}},
	}}
	c := newTestController(t, store, gen, nil)

	if _, err := c.Advance(context.Background()); err != nil {
		t.Fatal(err)
	}
	p := c.View().Project
	if v := p.CurrentVersion("a"); v == nil || v.ImagePrompt != "dusk over hills" {
		t.Fatalf("expected merged prompt for a, got %+v", v)
	}
	if v := p.CurrentVersion("b"); v != nil {
		t.Fatalf("expected b untouched, got %+v", v)
	}
}

func TestContinueToSoundscapeAppliesInitialisedLoops(t *testing.T) {
	snaps := snapshotsAt(models.StageComposition)
	snaps.Composition = compositionOf(
		models.ShotVersion{ID: "a-v1", ShotID: "a", VersionNumber: 1, ImageURL: "a.png"},
		models.ShotVersion{ID: "b-v1", ShotID: "b", VersionNumber: 1, ImageURL: "b.png"},
	)
	two, one := 2, 1
	store := &memStore{snaps: snaps, soundscape: &models.SoundscapeSlice{
		ScenesWithLoops: []models.Scene{{ID: "s1", LoopCount: &two}},
		ShotsWithLoops:  map[string][]models.Shot{"s1": {{ID: "a", LoopCount: &one}, {ID: "b", LoopCount: &one}}},
	}}
	c := newTestController(t, store, &fakeGen{}, nil)

	next, err := c.Advance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if next != models.StageSoundscape {
		t.Fatalf("expected soundscape, got %s", next)
	}
	p := c.View().Project
	if p.Scenes[0].Loops() != 2 {
		t.Fatalf("expected scene loop 2, got %d", p.Scenes[0].Loops())
	}
	if got := p.TotalDuration(); got != 20 {
		t.Fatalf("expected 20s with loops, got %v", got)
	}
}

func TestReturningToSoundscapeKeepsAudio(t *testing.T) {
	snaps := snapshotsAt(models.StageComposition)
	snaps.CurrentStage = models.StageSoundscape
	snaps.Composition = compositionOf(
		models.ShotVersion{ID: "a-v1", ShotID: "a", VersionNumber: 1, ImageURL: "a.png"},
		models.ShotVersion{ID: "b-v1", ShotID: "b", VersionNumber: 1, ImageURL: "b.png"},
	)
	one, two := 1, 2
	snaps.Soundscape = &models.SoundscapeSlice{
		ScenesWithLoops: []models.Scene{{ID: "s1", LoopCount: &one}},
		ShotsWithLoops: map[string][]models.Shot{"s1": {
			{ID: "a", LoopCount: &one, SoundEffectDescription: "rain", SoundEffectURL: "a.mp3"},
			{ID: "b", LoopCount: &one},
		}},
		Settings: models.Soundscape{MusicEnabled: true, UploadedMusicURL: "song.mp3", VoiceoverEnabled: true, VoiceoverScript: "hello"},
	}
	store := &memStore{snaps: snaps, soundscape: &models.SoundscapeSlice{
		ScenesWithLoops: []models.Scene{{ID: "s1", LoopCount: &two}},
		ShotsWithLoops:  map[string][]models.Shot{"s1": {{ID: "a", LoopCount: &one}, {ID: "b", LoopCount: &one}}},
	}}
	c := newTestController(t, store, &fakeGen{}, nil)
	ctx := context.Background()

	if err := c.SelectStage(ctx, models.StageComposition); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Advance(ctx); err != nil {
		t.Fatal(err)
	}
	p := c.View().Project
	s := p.Soundscape
	if !s.MusicEnabled || s.UploadedMusicURL != "song.mp3" || s.VoiceoverScript != "hello" {
		t.Fatalf("expected soundscape settings kept, got %+v", s)
	}
	sh, _ := p.FindShot("a")
	if sh.SoundEffectURL != "a.mp3" || sh.SoundEffectDescription != "rain" {
		t.Fatalf("expected sound effect kept, got %+v", sh)
	}
	if p.Scenes[0].Loops() != 2 {
		t.Fatalf("expected initialised scene loop 2, got %d", p.Scenes[0].Loops())
	}
}

func TestSelectStageBeyondFurthest(t *testing.T) {
	c := newTestController(t, &memStore{snaps: snapshotsAt(models.StageFlowDesign)}, &fakeGen{}, nil)
	ctx := context.Background()

	if err := c.SelectStage(ctx, models.StageComposition); !errors.Is(err, ErrStageNotReached) {
		t.Fatalf("expected ErrStageNotReached, got %v", err)
	}
	if err := c.SelectStage(ctx, models.StageAtmosphere); err != nil {
		t.Fatal(err)
	}
	if c.CurrentStage() != models.StageAtmosphere {
		t.Fatalf("expected atmosphere, got %s", c.CurrentStage())
	}
	if err := c.SelectStage(ctx, models.StageFlowDesign); err != nil {
		t.Fatalf("expected to return to furthest stage, got %v", err)
	}
	if err := c.SelectStage(ctx, models.Stage(9)); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestLockRevertsWhenWriteFails(t *testing.T) {
	store := &memStore{snaps: snapshotsAt(models.StageFlowDesign)}
	c := newTestController(t, store, &fakeGen{}, nil)
	ctx := context.Background()

	store.failSettings = errors.New("timeout")
	if err := c.LockContinuity(ctx, true); err == nil {
		t.Fatal("expected error")
	}
	if c.View().Project.GroupsLocked {
		t.Fatal("expected lock to be reverted")
	}

	store.failSettings = nil
	if err := c.LockContinuity(ctx, true); err != nil {
		t.Fatal(err)
	}
	writes := store.settingsWrites()
	if len(writes) != 1 || !writes[0].(*models.FlowDesignSlice).ContinuityLocked {
		t.Fatalf("expected one locked flow design write, got %+v", writes)
	}
	if err := c.GenerateContinuityGroups(ctx); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestContinuityGroupsReviewed(t *testing.T) {
	snaps := snapshotsAt(models.StageFlowDesign)
	snaps.VisualWorld.Mode = models.ModeStartEndFrame
	c := newTestController(t, &memStore{snaps: snaps}, &fakeGen{}, nil)
	ctx := context.Background()

	if err := c.GenerateContinuityGroups(ctx); err != nil {
		t.Fatal(err)
	}
	groups := c.View().Project.Groups["s1"]
	if len(groups) != 1 || groups[0].Status != models.GroupProposed {
		t.Fatalf("expected one proposed group, got %+v", groups)
	}
	if err := c.ApproveGroup(groups[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := c.LockContinuity(ctx, true); err != nil {
		t.Fatal(err)
	}
	if res, _ := c.Validate(models.StageFlowDesign); !res.Passed {
		t.Fatalf("expected flow design gate to pass, got %+v", res)
	}
	if err := c.ApproveGroup(groups[0].ID); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked after locking, got %v", err)
	}
}

func TestShotImageJobMergesReturnedVersion(t *testing.T) {
	gen := &fakeGen{shotResult: &models.ShotResult{
		Version: models.ShotVersion{ID: "a-v2", ShotID: "a", VersionNumber: 2, ImageURL: "a2.png", Status: models.VersionStatusCompleted},
	}}
	c := newTestController(t, &memStore{snaps: snapshotsAt(models.StageComposition)}, gen, nil)

	job, err := c.GenerateShotImage(context.Background(), "a", true)
	if err != nil {
		t.Fatal(err)
	}
	if p := job.Progress(); p.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed on submit, got %s", p.Status)
	}
	if v := c.View().Project.CurrentVersion("a"); v == nil || v.ID != "a-v2" {
		t.Fatalf("expected a-v2 current, got %+v", v)
	}
}

func TestShotImageJobPollsUntilReady(t *testing.T) {
	gen := &fakeGen{shotResult: &models.ShotResult{
		Version: models.ShotVersion{ID: "a-v1", ShotID: "a", VersionNumber: 1, Status: models.VersionStatusProcessing},
	}}
	c := newTestController(t, &memStore{snaps: snapshotsAt(models.StageComposition)}, gen, nil)

	job, err := c.GenerateShotImage(context.Background(), "a", false)
	if err != nil {
		t.Fatal(err)
	}
	if p := job.Progress(); p.Status != models.JobStatusPolling {
		t.Fatalf("expected polling, got %s", p.Status)
	}
	gen.setProject(models.Snapshots{Composition: compositionOf(
		models.ShotVersion{ID: "a-v1", ShotID: "a", VersionNumber: 1, ImageURL: "a.png", Status: models.VersionStatusCompleted},
	)})
	p, err := job.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", p.Status)
	}
	if v := c.View().Project.CurrentVersion("a"); v == nil || v.ImageURL != "a.png" {
		t.Fatalf("expected polled image, got %+v", v)
	}
}

func TestUnknownShotIsNotSubmitted(t *testing.T) {
	c := newTestController(t, &memStore{snaps: snapshotsAt(models.StageComposition)}, &fakeGen{}, nil)
	if _, err := c.GenerateShotVideo(context.Background(), "zzz"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchImagesCompleteWithItemFailures(t *testing.T) {
	gen := &fakeGen{batch: &models.BatchResult{
		Succeeded: 1,
		Failed:    1,
		Items:     []models.ItemResult{{ShotID: "a"}, {ShotID: "b", Error: "content filtered"}},
	}}
	c := newTestController(t, &memStore{snaps: snapshotsAt(models.StageComposition)}, gen, nil)

	job, err := c.GenerateAllImages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p := job.Progress(); p.Total != 2 || p.Failed["b"] != "content filtered" {
		t.Fatalf("expected b failed at submit, got %+v", p)
	}
	gen.setProject(models.Snapshots{Composition: compositionOf(
		models.ShotVersion{ID: "a-v1", ShotID: "a", VersionNumber: 1, ImageURL: "a.png", Status: models.VersionStatusCompleted},
	)})
	p, err := job.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.JobStatusCompleted || p.String() != "1 of 2" {
		t.Fatalf("expected completed 1 of 2, got %s %s", p.Status, p)
	}
	if v := c.View().Project.CurrentVersion("a"); v == nil || v.ImageURL != "a.png" {
		t.Fatalf("expected a image merged, got %+v", v)
	}
}

func TestBatchRefreshIncludesPendingEdits(t *testing.T) {
	snaps := snapshotsAt(models.StageComposition)
	snaps.Composition = compositionOf(
		models.ShotVersion{ID: "a-v1", ShotID: "a", VersionNumber: 1, ImageURL: "a.png", Status: models.VersionStatusCompleted},
		models.ShotVersion{ID: "a-v2", ShotID: "a", VersionNumber: 2, ImageURL: "a2.png", Status: models.VersionStatusCompleted},
		models.ShotVersion{ID: "b-v1", ShotID: "b", VersionNumber: 1, ImageURL: "b.png", Status: models.VersionStatusCompleted},
	)
	store := &memStore{snaps: snaps}
	fetched := make(chan string, 4)
	gen := &fakeGen{batch: &models.BatchResult{}}
	gen.fetch = func(ctx context.Context, videoID string) (models.Snapshots, error) {
		s, err := store.LoadSnapshots(ctx, videoID)
		for _, sh := range s.Composition.Shots["s1"] {
			if sh.ID == "a" {
				fetched <- sh.CurrentVersionID
			}
		}
		return s, err
	}
	c := newTestController(t, store, gen, nil)

	if err := c.SelectVersion("a", "a-v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GenerateAllImages(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-fetched:
		if got != "a-v1" {
			t.Fatalf("expected refresh to see the selected version, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("composition was not refreshed")
	}
	if writes := store.settingsWrites(); len(writes) != 1 {
		t.Fatalf("expected the pending edit to be written once, got %d", len(writes))
	}
}

func TestVoiceoverJobStoresAudio(t *testing.T) {
	snaps := snapshotsAt(models.StageComposition)
	snaps.CurrentStage = models.StageSoundscape
	store := &memStore{snaps: snaps}
	gen := &fakeGen{voiceover: "vo.mp3"}
	c := newTestController(t, store, gen, nil)
	ctx := context.Background()

	if _, err := c.GenerateVoiceover(ctx); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty script to be rejected, got %v", err)
	}
	script, err := c.GenerateVoiceoverScript(ctx)
	if err != nil || script != "once upon a time" {
		t.Fatalf("script: %q %v", script, err)
	}
	job, err := c.GenerateVoiceover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job.Progress().Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Progress().Status)
	}
	if got := c.View().Project.Soundscape.VoiceoverAudioURL; got != "vo.mp3" {
		t.Fatalf("expected voiceover url, got %q", got)
	}
	if pending := c.View().PendingWrites; len(pending) != 1 || pending[0] != "step5-settings" {
		t.Fatalf("expected pending soundscape write, got %v", pending)
	}
}

func TestSoundEffectRecommendAndGenerate(t *testing.T) {
	snaps := snapshotsAt(models.StageComposition)
	snaps.CurrentStage = models.StageSoundscape
	c := newTestController(t, &memStore{snaps: snaps}, &fakeGen{}, nil)
	ctx := context.Background()

	if _, err := c.RecommendSoundEffect(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GenerateSoundEffect(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	sh, _ := c.View().Project.FindShot("a")
	if sh.SoundEffectDescription != "wind" || sh.SoundEffectURL != "wind.mp3" {
		t.Fatalf("unexpected shot %+v", sh)
	}
}

func TestUploadMusic(t *testing.T) {
	snaps := snapshotsAt(models.StageComposition)
	snaps.CurrentStage = models.StageSoundscape
	ctx := context.Background()

	bare := newTestController(t, &memStore{snaps: snaps}, &fakeGen{}, nil)
	if _, err := bare.UploadMusic(ctx, "theme.mp3", strings.NewReader("x"), 1); !errors.Is(err, ErrNoMediaStore) {
		t.Fatalf("expected ErrNoMediaStore, got %v", err)
	}

	media := &fakeMedia{}
	c := newTestController(t, &memStore{snaps: snaps}, &fakeGen{}, media)
	url, err := c.UploadMusic(ctx, "theme.mp3", strings.NewReader("abc"), 3)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(media.objects[0], "videos/video-1/music/") || !strings.HasSuffix(url, ".mp3") {
		t.Fatalf("unexpected upload %v %s", media.objects, url)
	}
	if !c.View().Project.Soundscape.HasMusic() {
		t.Fatal("expected music to be set")
	}
}

func TestLoopEditsRespectLock(t *testing.T) {
	snaps := snapshotsAt(models.StageComposition)
	snaps.CurrentStage = models.StageSoundscape
	c := newTestController(t, &memStore{snaps: snaps}, &fakeGen{}, nil)
	ctx := context.Background()

	enabled := true
	if err := c.UpdateSoundscape(SoundscapePatch{LoopModeEnabled: &enabled}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetShotLoop("a", 3); err != nil {
		t.Fatal(err)
	}
	if err := c.SetShotLoop("a", 0); !errors.Is(err, models.ErrInvalidLoopCount) {
		t.Fatalf("expected ErrInvalidLoopCount, got %v", err)
	}
	if err := c.LockLoops(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetSceneLoop("s1", 2); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if got := c.View().Project.TotalDuration(); got != 20 {
		t.Fatalf("expected 20s, got %v", got)
	}
}

func TestClosedControllerRejectsEdits(t *testing.T) {
	c := newTestController(t, &memStore{}, &fakeGen{}, nil)
	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAtmosphere(models.AtmosphereSettings{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRegistryReusesOpenController(t *testing.T) {
	r := NewRegistry(Options{Store: &memStore{}, Generator: &fakeGen{}, Debounce: time.Hour})
	ctx := context.Background()

	a, err := r.Open(ctx, "video-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Open(ctx, "video-1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected the same controller")
	}
	if err := r.Close(ctx, "video-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("video-1"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := r.CloseAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Open(ctx, "video-2"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after CloseAll, got %v", err)
	}
}

// gatedStore holds the load of video "slow" until gate is closed.
type gatedStore struct {
	*memStore
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStore) LoadSnapshots(ctx context.Context, videoID string) (models.Snapshots, error) {
	if videoID == "slow" {
		close(g.entered)
		select {
		case <-g.gate:
		case <-ctx.Done():
			return models.Snapshots{}, ctx.Err()
		}
	}
	return g.memStore.LoadSnapshots(ctx, videoID)
}

func TestRegistryLoadDoesNotBlockOtherVideos(t *testing.T) {
	store := &gatedStore{memStore: &memStore{}, entered: make(chan struct{}), gate: make(chan struct{})}
	r := NewRegistry(Options{Store: store, Generator: &fakeGen{}, Debounce: time.Hour})
	t.Cleanup(func() { _ = r.CloseAll(context.Background()) })
	ctx := context.Background()

	if _, err := r.Open(ctx, "fast"); err != nil {
		t.Fatal(err)
	}
	opened := make(chan error, 1)
	go func() {
		_, err := r.Open(ctx, "slow")
		opened <- err
	}()
	<-store.entered

	got := make(chan error, 1)
	go func() {
		_, err := r.Get("fast")
		got <- err
	}()
	select {
	case err := <-got:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Get blocked behind another video's load")
	}
	if _, err := r.Get("slow"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected slow to be not open yet, got %v", err)
	}

	close(store.gate)
	if err := <-opened; err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("slow"); err != nil {
		t.Fatal(err)
	}
}

type memJournal struct {
	mu   sync.Mutex
	recs map[string]models.JobRecord
}

func (m *memJournal) Record(ctx context.Context, rec models.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[string]models.JobRecord)
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *memJournal) ListByVideo(ctx context.Context, videoID string) ([]models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JobRecord
	for _, rec := range m.recs {
		if rec.VideoID == videoID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestJobHistoryComesFromJournal(t *testing.T) {
	ctx := context.Background()
	bare := newTestController(t, &memStore{}, &fakeGen{}, nil)
	if history, err := bare.JobHistory(ctx); err != nil || history != nil {
		t.Fatalf("expected no history without a journal, got %v %v", history, err)
	}

	journal := &memJournal{}
	c := New("video-1", Options{Store: &memStore{}, Generator: &fakeGen{}, Debounce: time.Hour, Journal: journal})
	if err := c.Load(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	if _, err := c.GenerateVoiceoverScript(ctx); err != nil {
		t.Fatal(err)
	}
	history, err := c.JobHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Kind != models.JobVoiceoverScript || history[0].Status != models.JobStatusCompleted {
		t.Fatalf("unexpected history %+v", history)
	}
}
