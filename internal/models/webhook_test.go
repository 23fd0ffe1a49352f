package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEventKind(t *testing.T) {
	tests := []struct {
		header string
		want   EventKind
	}{
		{"pull_request_review", EventReview},
		{"workflow_run", EventWorkflowRun},
		{"issues", EventUnknown},
		{"", EventUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseEventKind(tt.header), tt.header)
	}
}

func TestWorkflowRunEventValid(t *testing.T) {
	event := WorkflowRunEvent{Action: "completed"}
	event.WorkflowRun.Event = "pull_request"

	// Завершённый прогон по PR без номера PR неполон
	assert.False(t, event.Valid())

	event.WorkflowRun.Conclusion = "success"
	event.WorkflowRun.PullRequests = []struct {
		Number int `json:"number"`
	}{{Number: 3}}
	assert.True(t, event.Valid())

	// Для незавершённых прогонов номер PR не обязателен
	event = WorkflowRunEvent{Action: "requested"}
	event.WorkflowRun.Event = "pull_request"
	assert.True(t, event.Valid())
}
