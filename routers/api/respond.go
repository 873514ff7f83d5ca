package api

import (
	"errors"
	"net/http"

	"StoryToVideo-studio/jobs"
	"StoryToVideo-studio/models"
	"StoryToVideo-studio/persistence"
	"StoryToVideo-studio/service"
	"StoryToVideo-studio/validation"
	"StoryToVideo-studio/workflow"

	"github.com/gin-gonic/gin"
)

// Workflows holds the open videos. Set by routers.InitRouter.
var Workflows *workflow.Registry

func statusOf(err error) int {
	var (
		verr *validation.Error
		perr *persistence.Error
		gerr *jobs.GenerationError
		berr *service.BackendError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound), errors.Is(err, workflow.ErrNotOpen):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidInput), errors.Is(err, workflow.ErrUnknownStage),
		errors.Is(err, models.ErrInvalidLoopCount):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrLocked), errors.Is(err, workflow.ErrStageNotReached),
		errors.Is(err, workflow.ErrLastStage), errors.Is(err, workflow.ErrClosed),
		errors.Is(err, workflow.ErrNotLoaded), errors.Is(err, models.ErrCurrentVersion),
		errors.Is(err, models.ErrForeignVersion), errors.Is(err, models.ErrInheritedStartFrame),
		errors.Is(err, models.ErrGroupOverlap):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrNoMediaStore):
		return http.StatusServiceUnavailable
	case errors.As(err, &perr), errors.As(err, &gerr), errors.As(err, &berr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var verr *validation.Error
	if errors.As(err, &verr) {
		body["stage"] = verr.Stage
		body["unmet"] = verr.Unmet
	}
	c.JSON(statusOf(err), body)
}

// controller resolves :video_id to an open workflow or writes a 404.
func controller(c *gin.Context) (*workflow.Controller, bool) {
	wf, err := Workflows.Get(c.Param("video_id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return wf, true
}

// bind decodes the JSON body into req or writes a 400.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// edited writes the outcome of a synchronous edit.
func edited(c *gin.Context, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// jobResponse reports a submitted job. Jobs still polling answer 202.
func jobResponse(c *gin.Context, job *jobs.Job, err error) {
	if job == nil {
		respondError(c, err)
		return
	}
	p := job.Progress()
	switch {
	case err != nil:
		c.JSON(statusOf(err), gin.H{"error": err.Error(), "job": p})
	case p.Terminal():
		c.JSON(http.StatusOK, gin.H{"job": p})
	default:
		c.JSON(http.StatusAccepted, gin.H{"job": p})
	}
}
