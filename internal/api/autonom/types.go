package autonom

import (
	"encoding/json"

	"github.com/tjfontaine/autonom-console/internal/workflow"
)

// User is a user profile as the backend stores it. Current documents carry
// days and meals at the top level; older ones nest them under schedule.
type User struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Preferences         []string   `json:"preferences"`
	Allergies           []string   `json:"allergies"`
	Days                []string   `json:"days,omitempty"`
	Meals               []MealSlot `json:"meals,omitempty"`
	Schedule            Schedule   `json:"schedule,omitzero"`
	SpecialInstructions string     `json:"special_instructions"`
}

// Schedule is the legacy nested form of the days and meal slots.
type Schedule struct {
	Days  []string   `json:"days"`
	Meals []MealSlot `json:"meals"`
}

// MealSlot is a named meal with a delivery window in HH:MM.
type MealSlot struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// TriggerOptions are optional parameters for starting a plan.
type TriggerOptions struct {
	// Day narrows planning to one schedule day, e.g. "Thursday".
	Day string
}

// TriggerResult is the non-streaming response of a plan trigger.
type TriggerResult struct {
	SessionID      string          `json:"session_id"`
	WorkflowStatus workflow.Status `json:"workflow_status"`
	UserID         string          `json:"user_id,omitempty"`
}

// ResumeRequest is the body of a resume call.
type ResumeRequest struct {
	Choice string `json:"choice"`
}

// ResumeResult is the non-streaming response of a resume call.
type ResumeResult struct {
	SessionID      string          `json:"session_id"`
	WorkflowStatus workflow.Status `json:"workflow_status"`
	UserID         string          `json:"user_id,omitempty"`
	UserChoice     Choices         `json:"user_choice"`
}

// Choices accepts either a single string or a list of strings.
type Choices []string

// UnmarshalJSON implements json.Unmarshaler.
func (c *Choices) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*c = Choices{}
		} else {
			*c = Choices{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	if many == nil {
		many = []string{}
	}
	*c = many
	return nil
}

// Stream event types emitted by the agent while it works.
const (
	EventToolCall     = "ToolCall"
	EventToolResponse = "ToolResponse"
	EventTextResponse = "TextResponse"
)

// StreamEvent is one parsed "data:" frame of a streamed trigger or resume.
type StreamEvent struct {
	Type            string          `json:"type"`
	Calls           []ToolCall      `json:"calls,omitempty"`
	Responses       []ToolResponse  `json:"responses,omitempty"`
	Text            string          `json:"text,omitempty"`
	IsFinalResponse bool            `json:"isFinalResponse,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	WorkflowStatus  workflow.Status `json:"workflow_status,omitempty"`
	Message         string          `json:"message,omitempty"`

	// Raw is the frame as received.
	Raw json.RawMessage `json:"-"`
}

// ToolCall is an agent tool invocation.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResponse is the result of a tool invocation.
type ToolResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

// StreamResult wraps an event or error from streaming.
type StreamResult struct {
	Event *StreamEvent
	Err   error
}
