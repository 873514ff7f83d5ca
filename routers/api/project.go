package api

import (
	"net/http"
	"strconv"

	"StoryToVideo-studio/models"

	"github.com/gin-gonic/gin"
)

// 打开视频工作流：POST /v1/api/videos/:video_id
func OpenVideo(c *gin.Context) {
	wf, err := Workflows.Open(c.Request.Context(), c.Param("video_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf.View())
}

func CloseVideo(c *gin.Context) {
	edited(c, Workflows.Close(c.Request.Context(), c.Param("video_id")))
}

func GetVideo(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, wf.View())
}

// 进入下一阶段
func AdvanceStage(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	next, err := wf.Advance(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currentStep": next})
}

func stageParam(c *gin.Context) (models.Stage, bool) {
	n, err := strconv.Atoi(c.Param("stage"))
	if err != nil || !models.Stage(n).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stage: " + c.Param("stage")})
		return 0, false
	}
	return models.Stage(n), true
}

// 跳转到已到达的阶段
func SelectStage(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	stage, ok := stageParam(c)
	if !ok {
		return
	}
	if err := wf.SelectStage(c.Request.Context(), stage); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currentStep": wf.CurrentStage()})
}

func ValidateStage(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	stage, ok := stageParam(c)
	if !ok {
		return
	}
	res, err := wf.Validate(stage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func UpdateAtmosphere(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req models.AtmosphereSettings
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SetAtmosphere(req))
}

func DescribeAtmosphere(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	desc, err := wf.GenerateMoodDescription(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moodDescription": desc})
}

func UpdateVisualWorld(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req models.VisualWorld
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SetVisualWorld(req))
}

func UpdateCompositionSettings(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req models.CompositionSettings
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SetCompositionSettings(req))
}

func UpdateExportSettings(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req models.ExportSettings
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SetExportSettings(req))
}
