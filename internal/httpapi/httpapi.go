// Package httpapi is the gin HTTP surface over jobs and notifications
// (SPEC_FULL §6): job CRUD, the inline SSE streaming path, and plain CRUD
// over notifications. It never touches the Event Bus or Agent Loop
// directly except through Deps' collaborators, keeping transport concerns
// separate from execution concerns.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/simage-ai/convoengine/internal/agentloop"
	"github.com/simage-ai/convoengine/internal/apperror"
	"github.com/simage-ai/convoengine/internal/bus"
	"github.com/simage-ai/convoengine/internal/notify"
	"github.com/simage-ai/convoengine/internal/store"
)

// Submitter hands a pending job to the worker pool, and lets the HTTP layer
// abort a job it is currently running.
type Submitter interface {
	Submit(jobID string)
	// Cancel aborts the model stream for a job currently running in the
	// pool, if any, and reports whether one was found (SPEC_FULL §5).
	Cancel(jobID string) bool
}

// InlineBuilder assembles the agentloop.Input one job execution needs;
// internal/resources.Builder satisfies this (it is the same contract
// internal/worker.Builder declares).
type InlineBuilder interface {
	Build(ctx context.Context, job *store.Job) (agentloop.Input, error)
}

// InlineLoop drives one assistant turn; *internal/agentloop.Loop satisfies
// this.
type InlineLoop interface {
	Run(ctx context.Context, in agentloop.Input, emit func(bus.Event)) (agentloop.Result, error)
}

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Store    *store.Store
	Bus      bus.Bus
	Worker   Submitter
	Notifier *notify.Notifier
	Loop     InlineLoop
	Builder  InlineBuilder
	Log      zerolog.Logger
}

// Register attaches every route in SPEC_FULL §6 to r.
func Register(r *gin.Engine, d Deps) {
	h := &handler{d: d}

	// "/jobs/active" MUST be registered before "/jobs/:job" — gin's router
	// otherwise treats "active" as a :job path param (see §6's route
	// registration order note).
	r.GET("/projects/:project/jobs/active", h.listActiveJobsForProject)

	threads := r.Group("/projects/:project/threads/:thread")
	threads.POST("/jobs", h.createJob)
	threads.GET("/jobs/active", h.activeJobForThread)
	threads.GET("/jobs/:job", h.getJob)
	threads.POST("/jobs/:job/start", h.startJob)
	threads.PATCH("/jobs/:job/progress", h.progressJob)
	threads.POST("/jobs/:job/complete", h.completeJob)
	threads.DELETE("/jobs/:job", h.cancelJob)
	threads.POST("/query/stream", h.streamQuery)

	notifications := r.Group("/projects/:project/notifications")
	notifications.GET("", h.listNotifications)
	notifications.GET("/unread-count", h.unreadCount)
	notifications.PATCH("/:notification", h.markRead)
	notifications.POST("/mark-all-read", h.markAllRead)
	notifications.DELETE("/:notification", h.deleteNotification)
}

type handler struct {
	d Deps
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperror.KindOf(err) {
	case apperror.KindNotFound:
		status = http.StatusNotFound
	case apperror.KindValidation:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// --- jobs ------------------------------------------------------------------

type createJobRequest struct {
	Question        string `json:"question" binding:"required"`
	ContextOnly     bool   `json:"context_only"`
	StartImmediately bool  `json:"start_immediately"`
}

func (h *handler) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.Wrap(apperror.KindValidation, "malformed body", err))
		return
	}
	project, thread := c.Param("project"), c.Param("thread")

	if !req.ContextOnly {
		if _, err := h.d.Store.CreateUserTurn(c.Request.Context(), thread, req.Question); err != nil {
			writeError(c, err)
			return
		}
	}

	job, err := h.d.Store.CreateJob(c.Request.Context(), project, thread, req.Question, req.ContextOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.StartImmediately {
		h.d.Worker.Submit(job.ID)
	}
	c.JSON(http.StatusCreated, job)
}

func (h *handler) activeJobForThread(c *gin.Context) {
	job, err := h.d.Store.ActiveJobForThread(c.Request.Context(), c.Param("thread"))
	if err != nil {
		writeError(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	_ = h.d.Store.TouchPollWatermark(c.Request.Context(), job.ID)
	c.JSON(http.StatusOK, job)
}

func (h *handler) listActiveJobsForProject(c *gin.Context) {
	jobs, err := h.d.Store.ActiveJobsForProject(c.Request.Context(), c.Param("project"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *handler) getJob(c *gin.Context) {
	job, err := h.d.Store.GetJob(c.Request.Context(), c.Param("job"))
	if err != nil {
		writeError(c, err)
		return
	}
	_ = h.d.Store.TouchPollWatermark(c.Request.Context(), job.ID)
	c.JSON(http.StatusOK, job)
}

func (h *handler) startJob(c *gin.Context) {
	h.d.Worker.Submit(c.Param("job"))
	c.Status(http.StatusAccepted)
}

type progressRequest struct {
	DeltaContent string `json:"delta_content"`
}

func (h *handler) progressJob(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.Wrap(apperror.KindValidation, "malformed body", err))
		return
	}
	if err := h.d.Store.AppendProgress(c.Request.Context(), c.Param("job"), req.DeltaContent); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type completeRequest struct {
	FinalContent  string          `json:"final_content"`
	SourcesJSON   json.RawMessage `json:"sources"`
	ToolCallsJSON json.RawMessage `json:"tool_calls"`
	InputTokens   int             `json:"input_tokens"`
	OutputTokens  int             `json:"output_tokens"`
}

func (h *handler) completeJob(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.Wrap(apperror.KindValidation, "malformed body", err))
		return
	}
	jobID := c.Param("job")
	_, ok, err := h.d.Store.CompleteJob(c.Request.Context(), jobID, req.FinalContent, req.SourcesJSON, req.ToolCallsJSON, req.InputTokens, req.OutputTokens)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, apperror.New(apperror.KindValidation, "job is not running"))
		return
	}
	if job, err := h.d.Store.GetJob(c.Request.Context(), jobID); err == nil && h.d.Notifier != nil {
		_ = h.d.Notifier.JobCompleted(c.Request.Context(), job)
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) cancelJob(c *gin.Context) {
	ok, err := h.d.Store.CancelJob(c.Request.Context(), c.Param("job"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, apperror.New(apperror.KindValidation, "job is not pending or running"))
		return
	}
	// Abort the in-flight model stream, if any, before telling subscribers
	// the job is cancelled — otherwise the worker keeps consuming the
	// stream to completion despite the status already reading cancelled
	// (SPEC_FULL §5, §9).
	h.d.Worker.Cancel(c.Param("job"))
	_ = h.d.Bus.Publish(c.Request.Context(), c.Param("project"), c.Param("job"), bus.Event{Kind: bus.EventKindError, Cancelled: true, Message: "cancelled"})
	c.Status(http.StatusNoContent)
}

// --- notifications ----------------------------------------------------------

func (h *handler) listNotifications(c *gin.Context) {
	unreadOnly := c.Query("unread_only") == "true"
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := h.d.Store.ListNotifications(c.Request.Context(), c.Param("project"), unreadOnly, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) unreadCount(c *gin.Context) {
	n, err := h.d.Store.UnreadNotificationCount(c.Request.Context(), c.Param("project"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": n})
}

func (h *handler) markRead(c *gin.Context) {
	if err := h.d.Store.MarkNotificationRead(c.Request.Context(), c.Param("notification")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) markAllRead(c *gin.Context) {
	if err := h.d.Store.MarkAllNotificationsRead(c.Request.Context(), c.Param("project")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) deleteNotification(c *gin.Context) {
	if err := h.d.Store.DeleteNotification(c.Request.Context(), c.Param("notification")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
