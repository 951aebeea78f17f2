package status

import (
	"time"

	"github.com/tjfontaine/autonom-console/internal/session"
	"github.com/tjfontaine/autonom-console/internal/workflow"
)

// SessionSummary is one row of the session history as renderers show it.
type SessionSummary struct {
	SessionID     string          `json:"session_id"`
	Status        workflow.Status `json:"workflow_status"`
	Label         string          `json:"label"`
	MealType      string          `json:"meal_type"`
	NeedsApproval bool            `json:"needs_approval"`
	HasUserChoice bool            `json:"has_user_choice"`
	Finished      bool            `json:"finished"`
	CreateTime    time.Time       `json:"create_time,omitzero"`
	UpdateTime    time.Time       `json:"update_time,omitzero"`
}

// Summarize projects a session document into its history row.
func Summarize(sess session.Session) SessionSummary {
	st := session.WorkflowStatus(sess)
	return SessionSummary{
		SessionID:     sess.ID,
		Status:        st,
		Label:         workflow.Label(st),
		MealType:      session.MealType(sess),
		NeedsApproval: session.NeedsApproval(sess),
		HasUserChoice: session.HasUserChoice(sess),
		Finished:      st.Terminal(),
		CreateTime:    sess.CreateTime,
		UpdateTime:    sess.UpdateTime,
	}
}

// SummarizeAll keeps the order of sessions.
func SummarizeAll(sessions []session.Session) []SessionSummary {
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, Summarize(sess))
	}
	return out
}
