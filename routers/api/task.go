package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 单个分镜图片生成：POST .../shots/:shot_id/image?regenerate=true
func GenerateShotImage(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	regenerate, _ := strconv.ParseBool(c.Query("regenerate"))
	job, err := wf.GenerateShotImage(c.Request.Context(), c.Param("shot_id"), regenerate)
	jobResponse(c, job, err)
}

func GenerateShotVideo(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	job, err := wf.GenerateShotVideo(c.Request.Context(), c.Param("shot_id"))
	jobResponse(c, job, err)
}

func GenerateAllImages(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	job, err := wf.GenerateAllImages(c.Request.Context())
	jobResponse(c, job, err)
}

func GenerateAllVideos(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	job, err := wf.GenerateAllVideos(c.Request.Context())
	jobResponse(c, job, err)
}

// 查询任务列表：GET /v1/api/videos/:video_id/jobs
func ListJobs(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	history, err := wf.JobHistory(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": wf.Tracker().List(), "history": history})
}

func GetJob(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	job := wf.Tracker().Get(c.Param("job_key"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found: " + c.Param("job_key")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job.Progress()})
}

// 任务进度 WebSocket 推送：订阅任务并推送每次状态变化，任务结束后关闭连接。
func JobProgressWebSocket(c *gin.Context) {
	wf, ok := controller(c)
	if !ok {
		return
	}
	job := wf.Tracker().Get(c.Param("job_key"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found: " + c.Param("job_key")})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, cancel := job.Subscribe()
	defer cancel()
	for p := range updates {
		if err := conn.WriteJSON(p); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}
