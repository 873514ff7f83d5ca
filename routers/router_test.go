package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"StoryToVideo-studio/jobs"
	"StoryToVideo-studio/models"
	"StoryToVideo-studio/workflow"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type memStore struct {
	mu    sync.Mutex
	snaps models.Snapshots
}

func (m *memStore) SaveStage(ctx context.Context, videoID string, slice models.StageSlice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps.Put(slice)
	return nil
}

func (m *memStore) SaveSettings(ctx context.Context, videoID string, slice models.StageSlice) error {
	return m.SaveStage(ctx, videoID, slice)
}

func (m *memStore) ContinueToSoundscape(ctx context.Context, videoID string, slice *models.CompositionSlice) (*models.SoundscapeSlice, error) {
	return nil, m.SaveStage(ctx, videoID, slice)
}

func (m *memStore) ContinueToPreview(ctx context.Context, videoID string, slice *models.SoundscapeSlice) error {
	return m.SaveStage(ctx, videoID, slice)
}

func (m *memStore) LoadSnapshots(ctx context.Context, videoID string) (models.Snapshots, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps, nil
}

// stubGen answers the generator calls these tests make.
type stubGen struct {
	workflow.Generator
}

func (stubGen) DescribeAtmosphere(ctx context.Context, videoID string, settings models.AtmosphereSettings) (string, error) {
	return "quiet " + settings.Mood, nil
}

func (stubGen) GenerateVoiceoverScript(ctx context.Context, videoID string) (string, error) {
	return "narration", nil
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := workflow.NewRegistry(workflow.Options{
		Store:     &memStore{},
		Generator: stubGen{},
		Debounce:  time.Hour,
	})
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })
	return InitRouter(reg)
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVideoMustBeOpened(t *testing.T) {
	r := newTestServer(t)
	if w := do(t, r, http.MethodGet, "/v1/api/videos/v1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w := do(t, r, http.MethodPost, "/v1/api/videos/v1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var view workflow.View
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Stage != models.StageAtmosphere {
		t.Fatalf("expected atmosphere, got %s", view.Stage)
	}
}

func TestAdvanceReportsUnmetRequirements(t *testing.T) {
	r := newTestServer(t)
	do(t, r, http.MethodPost, "/v1/api/videos/v1", nil)

	w := do(t, r, http.MethodPost, "/v1/api/videos/v1/advance", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "missing-description") {
		t.Fatalf("expected unmet requirement in body, got %s", w.Body)
	}
}

func TestAtmosphereFlow(t *testing.T) {
	r := newTestServer(t)
	do(t, r, http.MethodPost, "/v1/api/videos/v1", nil)

	if w := do(t, r, http.MethodPut, "/v1/api/videos/v1/atmosphere", models.AtmosphereSettings{Mood: "calm"}); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body)
	}
	w := do(t, r, http.MethodPost, "/v1/api/videos/v1/atmosphere/describe", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "quiet calm") {
		t.Fatalf("unexpected describe response %d: %s", w.Code, w.Body)
	}
	w = do(t, r, http.MethodPost, "/v1/api/videos/v1/advance", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"currentStep":2`) {
		t.Fatalf("unexpected advance response %d: %s", w.Code, w.Body)
	}
}

func TestSelectStage(t *testing.T) {
	r := newTestServer(t)
	do(t, r, http.MethodPost, "/v1/api/videos/v1", nil)

	if w := do(t, r, http.MethodPut, "/v1/api/videos/v1/stage/5", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPut, "/v1/api/videos/v1/stage/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/v1/api/videos/v1/stage/1/validation", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUnknownShotIs404(t *testing.T) {
	r := newTestServer(t)
	do(t, r, http.MethodPost, "/v1/api/videos/v1", nil)
	desc := "x"
	w := do(t, r, http.MethodPatch, "/v1/api/videos/v1/shots/nope", workflow.ShotPatch{Description: &desc})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body)
	}
}

func TestJobProgressWebSocket(t *testing.T) {
	r := newTestServer(t)
	do(t, r, http.MethodPost, "/v1/api/videos/v1", nil)
	if w := do(t, r, http.MethodPost, "/v1/api/videos/v1/voiceover/script", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}

	srv := httptest.NewServer(r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/videos/v1/jobs/voiceover-script:v1/wss"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	var p jobs.Progress
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatal(err)
	}
	if p.Status != models.JobStatusCompleted || p.Kind != models.JobVoiceoverScript {
		t.Fatalf("unexpected progress %+v", p)
	}

	w := do(t, r, http.MethodGet, "/v1/api/videos/v1/jobs", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "voiceover-script:v1") {
		t.Fatalf("unexpected jobs response %d: %s", w.Code, w.Body)
	}
}
