package session

import (
	"github.com/tidwall/gjson"

	"github.com/tjfontaine/autonom-console/internal/workflow"
)

// DefaultMealType is reported when a session does not say which meal it plans.
const DefaultMealType = "Unknown Meal"

// MealChoice is one option offered for approval.
type MealChoice struct {
	ID                  string  `json:"id,omitempty"`
	MenuItemName        string  `json:"menu_item_name"`
	RestaurantName      string  `json:"restaurant_name"`
	Price               float64 `json:"price"`
	Calories            int     `json:"calories"`
	Description         string  `json:"description"`
	SpecialInstructions string  `json:"special_instructions,omitempty"`
}

// HasState reports whether the document carries a state object. Documents
// without one are placeholders the backend returns before the agent starts.
func HasState(s Session) bool {
	return s.get("state").IsObject()
}

// WorkflowStatus returns the session's workflow status, or "" when absent.
func WorkflowStatus(s Session) workflow.Status {
	return workflow.Parse(s.get("state.workflow_status").String())
}

// MealType returns the meal being planned. Older documents nest it under
// state.planning.
func MealType(s Session) string {
	if r := first(s.get("state"), "meal_type", "planning.meal_type"); r.String() != "" {
		return r.String()
	}
	return DefaultMealType
}

// VerificationMessage returns the agent's approval prompt, or "" when absent.
// The message is either a plain string or an object carrying "message".
func VerificationMessage(s Session) string {
	r := s.get("state.meal_choice_verification_message")
	switch {
	case r.Type == gjson.String:
		return r.Str
	case r.IsObject():
		return r.Get("message").String()
	}
	return ""
}

// HasVerificationMessage reports whether an approval prompt is present.
func HasVerificationMessage(s Session) bool {
	return VerificationMessage(s) != ""
}

// MealChoices returns the options offered for approval, never nil.
func MealChoices(s Session) []MealChoice {
	r := s.get("state.meal_choices")
	if !r.IsArray() {
		return []MealChoice{}
	}

	items := r.Array()
	choices := make([]MealChoice, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		choices = append(choices, MealChoice{
			ID:                  item.Get("id").String(),
			MenuItemName:        firstString(item, "menu_item_name", "name"),
			RestaurantName:      item.Get("restaurant_name").String(),
			Price:               item.Get("price").Float(),
			Calories:            int(item.Get("calories").Int()),
			Description:         item.Get("description").String(),
			SpecialInstructions: item.Get("special_instructions").String(),
		})
	}
	return choices
}

// UserChoice returns the choices the user has submitted, never nil. Legacy
// sessions store a single value instead of a list.
func UserChoice(s Session) []string {
	r := s.get("state.user_choice")
	switch {
	case r.IsArray():
		items := r.Array()
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item.Type == gjson.Null {
				continue
			}
			out = append(out, item.String())
		}
		return out
	case r.Exists() && r.Type != gjson.Null && r.String() != "":
		return []string{r.String()}
	}
	return []string{}
}

// HasUserChoice reports whether the user has responded to a prompt.
func HasUserChoice(s Session) bool {
	return len(UserChoice(s)) > 0
}

// NeedsApproval reports whether the session is waiting on the user and has a
// prompt to show, which is when the history list offers to reopen it.
func NeedsApproval(s Session) bool {
	return WorkflowStatus(s) == workflow.AwaitingUserApproval && HasVerificationMessage(s)
}
