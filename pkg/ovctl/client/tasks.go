package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/arbitra-ai/oversight/pkg/hitl"
)

// ListPendingTasks returns pending tasks, priority descending.
func (c *Client) ListPendingTasks(ctx context.Context, limit int) ([]hitl.HumanTask, error) {
	endpoint := "/api/tasks"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var tasks []hitl.HumanTask
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*hitl.HumanTask, error) {
	var task hitl.HumanTask
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetFeedbackHistory fetches the feedback ledger for a task.
func (c *Client) GetFeedbackHistory(ctx context.Context, id string) ([]hitl.HumanFeedback, error) {
	var history []hitl.HumanFeedback
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+id+"/feedback", nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// AssignTask claims a task for a reviewer. An empty reviewerID lets the
// server use the authenticated identity.
func (c *Client) AssignTask(ctx context.Context, id, reviewerID string) (*hitl.HumanTask, error) {
	body := map[string]string{}
	if reviewerID != "" {
		body["reviewerId"] = reviewerID
	}
	var task hitl.HumanTask
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/assign", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SubmitFeedback resolves a task with the reviewer's decision.
func (c *Client) SubmitFeedback(ctx context.Context, id string, req hitl.FeedbackRequest) (*hitl.HumanFeedback, error) {
	var fb hitl.HumanFeedback
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/feedback", req, &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// EvaluateFinding submits a finding for escalation evaluation.
func (c *Client) EvaluateFinding(ctx context.Context, req hitl.EvaluateRequest) (*hitl.EvaluateResponse, error) {
	var resp hitl.EvaluateResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks/evaluate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
