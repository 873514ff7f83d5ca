package api

import (
	"net/http"

	"StoryToVideo-studio/models"
	"StoryToVideo-studio/workflow"

	"github.com/gin-gonic/gin"
)

type positionRequest struct {
	// Position is zero-based; -1 or omitted appends.
	Position *int `json:"position"`
}

func (r positionRequest) at() int {
	if r.Position == nil {
		return -1
	}
	return *r.Position
}

// 新增场景
func CreateScene(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req struct {
		models.Scene
		positionRequest
	}
	if !bind(c, &req) {
		return
	}
	scene, err := wf.AddScene(req.Scene, req.at())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scene": scene})
}

func UpdateScene(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req workflow.ScenePatch
	if !bind(c, &req) {
		return
	}
	edited(c, wf.UpdateScene(c.Param("scene_id"), req))
}

func DeleteScene(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	edited(c, wf.DeleteScene(c.Param("scene_id")))
}

// 新增分镜
func CreateShot(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req struct {
		models.Shot
		positionRequest
	}
	if !bind(c, &req) {
		return
	}
	req.Shot.SceneID = c.Param("scene_id")
	shot, err := wf.AddShot(req.Shot, req.at())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"shot": shot})
}

func UpdateShot(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req workflow.ShotPatch
	if !bind(c, &req) {
		return
	}
	edited(c, wf.UpdateShot(c.Param("shot_id"), req))
}

func DeleteShot(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	edited(c, wf.DeleteShot(c.Param("shot_id")))
}

func MoveShot(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req struct {
		Position int `json:"position"`
	}
	if !bind(c, &req) {
		return
	}
	edited(c, wf.MoveShot(c.Param("shot_id"), req.Position))
}

func SelectVersion(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req struct {
		VersionID string `json:"versionId" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SelectVersion(c.Param("shot_id"), req.VersionID))
}

func DeleteVersion(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	edited(c, wf.DeleteVersion(c.Param("shot_id"), c.Param("version_id")))
}

func UpdateStartFramePrompt(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req struct {
		Prompt string `json:"startFramePrompt"`
	}
	if !bind(c, &req) {
		return
	}
	edited(c, wf.SetStartFramePrompt(c.Param("shot_id"), req.Prompt))
}

// 生成连续性分组
func GenerateContinuityGroups(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	if err := wf.GenerateContinuityGroups(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"continuityGroups": wf.View().Project.Groups})
}

func ApproveGroup(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	edited(c, wf.ApproveGroup(c.Param("group_id")))
}

func RejectGroup(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	edited(c, wf.RejectGroup(c.Param("group_id")))
}

func EditGroup(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req struct {
		ShotIDs []string `json:"shotIds" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	edited(c, wf.EditGroup(c.Param("group_id"), req.ShotIDs))
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

func LockContinuity(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	var req lockRequest
	if !bind(c, &req) {
		return
	}
	edited(c, wf.LockContinuity(c.Request.Context(), req.Locked))
}
