package routers

import (
	"StoryToVideo-studio/routers/api"
	"StoryToVideo-studio/workflow"

	"github.com/gin-gonic/gin"
)

func InitRouter(reg *workflow.Registry) *gin.Engine {
	api.Workflows = reg
	r := gin.Default()
	v := r.Group("/v1/api/videos/:video_id")
	{
		v.POST("", api.OpenVideo)
		v.GET("", api.GetVideo)
		v.DELETE("", api.CloseVideo)
		v.POST("/advance", api.AdvanceStage)
		v.PUT("/stage/:stage", api.SelectStage)
		v.GET("/stage/:stage/validation", api.ValidateStage)

		v.PUT("/atmosphere", api.UpdateAtmosphere)
		v.POST("/atmosphere/describe", api.DescribeAtmosphere)
		v.PUT("/visual-world", api.UpdateVisualWorld)
		v.PUT("/composition", api.UpdateCompositionSettings)
		v.PUT("/export", api.UpdateExportSettings)

		v.POST("/scenes", api.CreateScene)
		v.PATCH("/scenes/:scene_id", api.UpdateScene)
		v.DELETE("/scenes/:scene_id", api.DeleteScene)
		v.PUT("/scenes/:scene_id/loop", api.UpdateSceneLoop)
		v.POST("/scenes/:scene_id/shots", api.CreateShot)
		v.PATCH("/shots/:shot_id", api.UpdateShot)
		v.DELETE("/shots/:shot_id", api.DeleteShot)
		v.PUT("/shots/:shot_id/position", api.MoveShot)
		v.PUT("/shots/:shot_id/current-version", api.SelectVersion)
		v.DELETE("/shots/:shot_id/versions/:version_id", api.DeleteVersion)
		v.PUT("/shots/:shot_id/start-frame-prompt", api.UpdateStartFramePrompt)
		v.POST("/shots/:shot_id/image", api.GenerateShotImage)
		v.POST("/shots/:shot_id/video", api.GenerateShotVideo)
		v.PUT("/shots/:shot_id/loop", api.UpdateShotLoop)
		v.PUT("/shots/:shot_id/sound-effect", api.UpdateSoundEffect)
		v.POST("/shots/:shot_id/sound-effect/recommend", api.RecommendSoundEffect)
		v.POST("/shots/:shot_id/sound-effect", api.GenerateSoundEffect)

		v.POST("/continuity/generate", api.GenerateContinuityGroups)
		v.PUT("/continuity/lock", api.LockContinuity)
		v.POST("/continuity/groups/:group_id/approve", api.ApproveGroup)
		v.POST("/continuity/groups/:group_id/reject", api.RejectGroup)
		v.PUT("/continuity/groups/:group_id", api.EditGroup)

		v.POST("/images", api.GenerateAllImages)
		v.POST("/videos", api.GenerateAllVideos)

		v.PATCH("/soundscape", api.UpdateSoundscape)
		v.PUT("/loops/lock", api.LockLoops)
		v.POST("/voiceover/script", api.GenerateVoiceoverScript)
		v.POST("/voiceover", api.GenerateVoiceover)
		v.POST("/music", api.GenerateMusic)
		v.POST("/music/upload", api.UploadMusic)

		v.GET("/jobs", api.ListJobs)
		v.GET("/jobs/:job_key", api.GetJob)
	}
	r.GET("/videos/:video_id/jobs/:job_key/wss", api.JobProgressWebSocket)
	return r
}
