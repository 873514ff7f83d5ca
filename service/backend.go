package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"StoryToVideo-studio/models"
)

// BackendError is a non-2xx answer from the video backend.
type BackendError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// BackendClient talks to the video backend that owns persisted stage data and
// runs every generation job.
type BackendClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewBackendClient(addr string, timeout time.Duration) *BackendClient {
	return &BackendClient{
		BaseURL: strings.TrimRight(addr, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func videoPath(videoID string, parts ...string) string {
	return "/videos/" + url.PathEscape(videoID) + "/" + strings.Join(parts, "/")
}

func shotPath(shotID string, parts ...string) string {
	return "/shots/" + url.PathEscape(shotID) + "/" + strings.Join(parts, "/")
}

func (c *BackendClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2000))
		return &BackendError{Method: method, Path: path, Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// SaveStage persists a stage slice: PATCH /videos/{id}/stage/{n}/continue.
func (c *BackendClient) SaveStage(ctx context.Context, videoID string, slice models.StageSlice) error {
	n := fmt.Sprint(int(slice.SliceStage()))
	return c.do(ctx, http.MethodPatch, videoPath(videoID, "stage", n, "continue"), slice, nil)
}

// SaveSettings is the debounced settings target: PATCH /videos/{id}/step{n}/settings.
func (c *BackendClient) SaveSettings(ctx context.Context, videoID string, slice models.StageSlice) error {
	step := fmt.Sprintf("step%d", int(slice.SliceStage()))
	return c.do(ctx, http.MethodPatch, videoPath(videoID, step, "settings"), slice, nil)
}

// ContinueToSoundscape finalises composition; the backend answers with the
// initialised soundscape slice.
func (c *BackendClient) ContinueToSoundscape(ctx context.Context, videoID string, slice *models.CompositionSlice) (*models.SoundscapeSlice, error) {
	var out models.SoundscapeSlice
	if err := c.do(ctx, http.MethodPatch, videoPath(videoID, "stage", "4", "continue-to-5"), slice, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) ContinueToPreview(ctx context.Context, videoID string, slice *models.SoundscapeSlice) error {
	return c.do(ctx, http.MethodPatch, videoPath(videoID, "stage", "5", "continue-to-6"), slice, nil)
}

// LoadSnapshots fetches the full project: GET /videos/{id}.
func (c *BackendClient) LoadSnapshots(ctx context.Context, videoID string) (models.Snapshots, error) {
	var out models.Snapshots
	if err := c.do(ctx, http.MethodGet, "/videos/"+url.PathEscape(videoID), nil, &out); err != nil {
		return models.Snapshots{}, err
	}
	if out.VideoID == "" {
		out.VideoID = videoID
	}
	return out, nil
}

// FetchProject is LoadSnapshots under the name used after batch jobs.
func (c *BackendClient) FetchProject(ctx context.Context, videoID string) (models.Snapshots, error) {
	return c.LoadSnapshots(ctx, videoID)
}

func (c *BackendClient) DescribeAtmosphere(ctx context.Context, videoID string, settings models.AtmosphereSettings) (string, error) {
	var out struct {
		MoodDescription string `json:"moodDescription"`
	}
	if err := c.do(ctx, http.MethodPost, videoPath(videoID, "atmosphere", "describe"), settings, &out); err != nil {
		return "", err
	}
	return out.MoodDescription, nil
}

func (c *BackendClient) GenerateFlowDesign(ctx context.Context, videoID string) (*models.FlowDesignSlice, error) {
	var out models.FlowDesignSlice
	if err := c.do(ctx, http.MethodPost, videoPath(videoID, "flow-design", "generate"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) GenerateContinuityGroups(ctx context.Context, videoID string) (map[string][]models.ContinuityGroup, error) {
	var out struct {
		ContinuityGroups map[string][]models.ContinuityGroup `json:"continuityGroups"`
	}
	if err := c.do(ctx, http.MethodPost, videoPath(videoID, "continuity", "generate"), nil, &out); err != nil {
		return nil, err
	}
	return out.ContinuityGroups, nil
}

func (c *BackendClient) batch(ctx context.Context, videoID, endpoint string) (*models.BatchResult, error) {
	var out models.BatchResult
	if err := c.do(ctx, http.MethodPost, videoPath(videoID, endpoint), nil, &out); err != nil {
		return nil, err
	}
	log.Printf("[Backend] %s %s: %d succeeded, %d failed", videoID, endpoint, out.Succeeded, out.Failed)
	return &out, nil
}

func (c *BackendClient) GenerateAllPrompts(ctx context.Context, videoID string) (*models.BatchResult, error) {
	return c.batch(ctx, videoID, "generate-all-prompts")
}

func (c *BackendClient) GenerateAllImages(ctx context.Context, videoID string) (*models.BatchResult, error) {
	return c.batch(ctx, videoID, "generate-all-images")
}

func (c *BackendClient) GenerateAllVideos(ctx context.Context, videoID string) (*models.BatchResult, error) {
	return c.batch(ctx, videoID, "generate-all-videos")
}

// GenerateShotImage submits POST /shots/{id}/generate-image, or
// regenerate-image when a new version should be created.
func (c *BackendClient) GenerateShotImage(ctx context.Context, shotID string, regenerate bool) (*models.ShotResult, error) {
	endpoint := "generate-image"
	if regenerate {
		endpoint = "regenerate-image"
	}
	var out models.ShotResult
	if err := c.do(ctx, http.MethodPost, shotPath(shotID, endpoint), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) GenerateShotVideo(ctx context.Context, shotID string) (*models.ShotResult, error) {
	var out models.ShotResult
	if err := c.do(ctx, http.MethodPost, shotPath(shotID, "generate-video"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) RecommendSoundEffect(ctx context.Context, shotID string) (string, error) {
	var out struct {
		Description string `json:"description"`
	}
	if err := c.do(ctx, http.MethodGet, shotPath(shotID, "sound-effect", "recommend"), nil, &out); err != nil {
		return "", err
	}
	return out.Description, nil
}

func (c *BackendClient) GenerateSoundEffect(ctx context.Context, shotID, description string) (string, error) {
	in := map[string]string{"description": description}
	var out struct {
		SoundEffectURL string `json:"soundEffectUrl"`
	}
	if err := c.do(ctx, http.MethodPost, shotPath(shotID, "sound-effect", "generate"), in, &out); err != nil {
		return "", err
	}
	return out.SoundEffectURL, nil
}

func (c *BackendClient) GenerateVoiceoverScript(ctx context.Context, videoID string) (string, error) {
	var out struct {
		Script string `json:"script"`
	}
	if err := c.do(ctx, http.MethodPost, videoPath(videoID, "voiceover", "script"), nil, &out); err != nil {
		return "", err
	}
	return out.Script, nil
}

func (c *BackendClient) GenerateVoiceover(ctx context.Context, videoID, script string) (string, error) {
	in := map[string]string{"script": script}
	var out struct {
		AudioURL string `json:"audioUrl"`
	}
	if err := c.do(ctx, http.MethodPost, videoPath(videoID, "voiceover", "generate"), in, &out); err != nil {
		return "", err
	}
	return out.AudioURL, nil
}

func (c *BackendClient) GenerateMusic(ctx context.Context, videoID, prompt string) (string, error) {
	in := map[string]string{"prompt": prompt}
	var out struct {
		MusicURL string `json:"musicUrl"`
	}
	if err := c.do(ctx, http.MethodPost, videoPath(videoID, "music", "generate"), in, &out); err != nil {
		return "", err
	}
	return out.MusicURL, nil
}
