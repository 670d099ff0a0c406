package hitl

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arbitra-ai/oversight/pkg/apiresponses"
	"github.com/arbitra-ai/oversight/pkg/metrics"
	"github.com/arbitra-ai/oversight/pkg/system"
)

// TaskController exposes the human task lifecycle over HTTP.
type TaskController struct {
	manager    *Manager
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

// NewTaskController constructs the controller. The middleware chain (auth,
// rate limiting) is applied to every route in the group.
func NewTaskController(log *zap.SugaredLogger, manager *Manager, middleware ...gin.HandlerFunc) *TaskController {
	return &TaskController{
		manager:    manager,
		log:        log,
		middleware: middleware,
	}
}

func (tc *TaskController) BasePath() string {
	return "tasks"
}

func (tc *TaskController) Handlers() []gin.HandlerFunc {
	return tc.middleware
}

func (tc *TaskController) Register(rg *gin.RouterGroup) error {
	rg.POST("/evaluate", tc.handleEvaluate)
	rg.GET("", tc.handleGetPendingTasks)
	rg.GET("/:id", tc.handleGetTask)
	rg.GET("/:id/feedback", tc.handleGetFeedback)
	rg.POST("/:id/assign", tc.handleAssignTask)
	rg.POST("/:id/feedback", tc.handleSubmitFeedback)
	return nil
}

// EvaluateRequest is the finding ingress payload from upstream agents.
type EvaluateRequest struct {
	Finding Finding       `json:"finding" binding:"required"`
	Context ReviewContext `json:"context"`
}

// EvaluateResponse reports the escalation decision. Task is nil when the
// finding needed no human review.
type EvaluateResponse struct {
	Escalated bool       `json:"escalated"`
	Task      *HumanTask `json:"task,omitempty"`
}

func (tc *TaskController) handleEvaluate(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tasks_evaluate").Inc()
	log := system.GetReqLogger(c, tc.log)

	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tasks_evaluate", "400").Inc()
		apiresponses.RespondBadRequest(c, "invalid evaluate request: "+err.Error())
		return
	}

	task, err := tc.manager.EvaluateForHumanReview(c.Request.Context(), req.Finding, req.Context)
	if err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tasks_evaluate", "500").Inc()
		apiresponses.RespondInternalError(c, "evaluate finding", err, log)
		return
	}

	if task == nil {
		apiresponses.RespondOK(c, EvaluateResponse{Escalated: false})
		return
	}
	apiresponses.RespondCreated(c, EvaluateResponse{Escalated: true, Task: task})
}

func (tc *TaskController) handleGetPendingTasks(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tasks_list").Inc()

	limit := DefaultPendingLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			metrics.APIEndpointErrors.WithLabelValues("tasks_list", "400").Inc()
			apiresponses.RespondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	apiresponses.RespondOK(c, tc.manager.GetPendingTasks(limit))
}

func (tc *TaskController) handleGetTask(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tasks_get").Inc()
	id := c.Param("id")

	task, err := tc.manager.GetTask(id)
	if err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tasks_get", "404").Inc()
		apiresponses.RespondNotFound(c, "task", id)
		return
	}
	apiresponses.RespondOK(c, task)
}

func (tc *TaskController) handleGetFeedback(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tasks_feedback_history").Inc()
	id := c.Param("id")

	history, err := tc.manager.GetFeedbackHistory(id)
	if err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tasks_feedback_history", "404").Inc()
		apiresponses.RespondNotFound(c, "task", id)
		return
	}
	apiresponses.RespondOK(c, history)
}

// AssignRequest names the reviewer taking the task. With auth enabled the
// reviewer identity from the token wins over the body.
type AssignRequest struct {
	ReviewerID string `json:"reviewerId"`
}

func (tc *TaskController) handleAssignTask(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tasks_assign").Inc()
	log := system.EnrichReqLoggerWithReviewer(c, system.GetReqLogger(c, tc.log))
	id := c.Param("id")

	var req AssignRequest
	_ = c.ShouldBindJSON(&req)

	reviewerID := c.GetString("reviewerId")
	if reviewerID == "" {
		reviewerID = req.ReviewerID
	}
	if reviewerID == "" {
		metrics.APIEndpointErrors.WithLabelValues("tasks_assign", "400").Inc()
		apiresponses.RespondBadRequest(c, "reviewerId is required")
		return
	}

	if err := tc.manager.AssignTask(c.Request.Context(), id, reviewerID); err != nil {
		switch {
		case errors.Is(err, ErrTaskNotFound):
			metrics.APIEndpointErrors.WithLabelValues("tasks_assign", "404").Inc()
			apiresponses.RespondNotFound(c, "task", id)
		case errors.Is(err, ErrTaskResolved):
			metrics.APIEndpointErrors.WithLabelValues("tasks_assign", "409").Inc()
			apiresponses.RespondConflict(c, "task already resolved")
		default:
			metrics.APIEndpointErrors.WithLabelValues("tasks_assign", "500").Inc()
			apiresponses.RespondInternalError(c, "assign task", err, log)
		}
		return
	}

	task, err := tc.manager.GetTask(id)
	if err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tasks_assign", "500").Inc()
		apiresponses.RespondInternalError(c, "load assigned task", err, log)
		return
	}
	apiresponses.RespondOK(c, task)
}

func (tc *TaskController) handleSubmitFeedback(c *gin.Context) {
	metrics.APIEndpointRequests.WithLabelValues("tasks_feedback").Inc()
	log := system.EnrichReqLoggerWithReviewer(c, system.GetReqLogger(c, tc.log))
	id := c.Param("id")

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.APIEndpointErrors.WithLabelValues("tasks_feedback", "400").Inc()
		apiresponses.RespondBadRequest(c, "invalid feedback request: "+err.Error())
		return
	}
	if authReviewer := c.GetString("reviewerId"); authReviewer != "" {
		req.ReviewerID = authReviewer
	}

	fb, err := tc.manager.SubmitFeedback(c.Request.Context(), id, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrTaskNotFound):
			metrics.APIEndpointErrors.WithLabelValues("tasks_feedback", "404").Inc()
			apiresponses.RespondNotFound(c, "task", id)
		case errors.Is(err, ErrTaskResolved):
			metrics.APIEndpointErrors.WithLabelValues("tasks_feedback", "409").Inc()
			apiresponses.RespondConflict(c, "task already resolved")
		default:
			metrics.APIEndpointErrors.WithLabelValues("tasks_feedback", "500").Inc()
			apiresponses.RespondInternalError(c, "submit feedback", err, log)
		}
		return
	}

	log.Infow("Feedback accepted", system.TaskFields(id, "feedbackId", fb.ID, "action", fb.Action)...)
	c.JSON(http.StatusCreated, fb)
}
