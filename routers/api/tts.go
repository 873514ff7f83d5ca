package api

import (
	"net/http"
	"path/filepath"

	"StoryToVideo-studio/workflow"

	"github.com/gin-gonic/gin"
)

func UpdateSoundscape(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req workflow.SoundscapePatch
	if !bind(c, &req) {
		return
	}
	edited(c, wf.UpdateSoundscape(req))
}

type loopRequest struct {
	LoopCount int `json:"loopCount"`
}

func UpdateSceneLoop(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req loopRequest
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SetSceneLoop(c.Param("scene_id"), req.LoopCount))
}

func UpdateShotLoop(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req loopRequest
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SetShotLoop(c.Param("shot_id"), req.LoopCount))
}

func LockLoops(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req lockRequest
	if !bind(c, &req) {
		return
	}
	edited(c, wf.LockLoops(c.Request.Context(), req.Locked))
}

func UpdateSoundEffect(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req struct {
		Description string `json:"soundEffectDescription"`
	}
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SetSoundEffectDescription(c.Param("shot_id"), req.Description))
}

func RecommendSoundEffect(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	desc, err := wf.RecommendSoundEffect(c.Request.Context(), c.Param("shot_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"soundEffectDescription": desc})
}

func GenerateSoundEffect(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	job, err := wf.GenerateSoundEffect(c.Request.Context(), c.Param("shot_id"))
	jobResponse(c, job, err)
}

// 配音脚本生成
func GenerateVoiceoverScript(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	script, err := wf.GenerateVoiceoverScript(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voiceoverScript": script})
}

// 项目配音（TTS）生成
func GenerateVoiceover(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	job, err := wf.GenerateVoiceover(c.Request.Context())
	jobResponse(c, job, err)
}

func GenerateMusic(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	job, err := wf.GenerateMusic(c.Request.Context())
	jobResponse(c, job, err)
}

// 上传背景音乐：multipart 字段 file
func UploadMusic(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file: " + err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	url, err := wf.UploadMusic(c.Request.Context(), filepath.Base(fh.Filename), f, fh.Size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploadedMusicUrl": url})
}
