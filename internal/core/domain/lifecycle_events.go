package domain

import (
	"encoding/json"
	"time"
)

// ActivityEvent is one entry of a session's activity timeline. Events are
// append-only and grouped by SessionID.
type ActivityEvent struct {
	ID        string            `json:"id"`
	Type      ActivityEventType `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Status    string            `json:"status,omitempty"`
	Text      string            `json:"text,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ActivityEventType identifies the type of activity event.
type ActivityEventType string

const (
	ActivityWorkflowStarted    ActivityEventType = "workflow.started"
	ActivityStatusChanged      ActivityEventType = "workflow.status_changed"
	ActivityApprovalRequested  ActivityEventType = "workflow.approval_requested"
	ActivityResponseSubmitted  ActivityEventType = "workflow.response_submitted"
	ActivityResponseFailed     ActivityEventType = "workflow.response_failed"
	ActivityOrderConfirmed     ActivityEventType = "workflow.order_confirmed"
	ActivitySessionEnded       ActivityEventType = "workflow.session_ended"
	ActivityStreamToolCall     ActivityEventType = "stream.tool_call"
	ActivityStreamToolResponse ActivityEventType = "stream.tool_response"
	ActivityStreamText         ActivityEventType = "stream.text_response"
)
