package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tjfontaine/autonom-console/internal/workflow"
)

func mustParse(t *testing.T, raw string) Session {
	t.Helper()
	s, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

func TestAccessorsDefaults(t *testing.T) {
	docs := map[string]string{
		"empty state":  `{"session_id":"s1","state":{}}`,
		"no state":     `{"session_id":"s1"}`,
		"null state":   `{"session_id":"s1","state":null}`,
		"scalar state": `{"session_id":"s1","state":"weird"}`,
		"null fields":  `{"session_id":"s1","state":{"workflow_status":null,"meal_choices":null,"user_choice":null,"order_confirmation_message":null}}`,
		"wrong types":  `{"session_id":"s1","state":{"meal_choices":"pizza","order_confirmation_message":42}}`,
	}

	for name, raw := range docs {
		t.Run(name, func(t *testing.T) {
			s := mustParse(t, raw)

			if got := WorkflowStatus(s); got != "" {
				t.Errorf("WorkflowStatus = %q, want empty", got)
			}
			if got := VerificationMessage(s); got != "" {
				t.Errorf("VerificationMessage = %q, want empty", got)
			}
			if got := MealChoices(s); got == nil || len(got) != 0 {
				t.Errorf("MealChoices = %#v, want empty non-nil slice", got)
			}
			if got := UserChoice(s); got == nil || len(got) != 0 {
				t.Errorf("UserChoice = %#v, want empty non-nil slice", got)
			}
			if got := OrderConfirmationFor(s); got != nil {
				t.Errorf("OrderConfirmationFor = %+v, want nil", got)
			}
			if got := OrderConfirmationMessage(s); got != "" {
				t.Errorf("OrderConfirmationMessage = %q, want empty", got)
			}
			if got := OrderBill(s); got != nil {
				t.Errorf("OrderBill = %+v, want nil", got)
			}
			if got := MealType(s); got != DefaultMealType {
				t.Errorf("MealType = %q, want %q", got, DefaultMealType)
			}
			if NeedsApproval(s) {
				t.Error("NeedsApproval = true, want false")
			}
		})
	}
}

func TestAccessorsOnZeroSession(t *testing.T) {
	var s Session
	if HasState(s) || WorkflowStatus(s) != "" || len(MealChoices(s)) != 0 || OrderConfirmationFor(s) != nil {
		t.Error("zero Session should yield defaults")
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("Marshal(zero) = %s, want null", data)
	}
}

func TestHasState(t *testing.T) {
	if HasState(mustParse(t, `{"session_id":"s1"}`)) {
		t.Error("HasState without state = true")
	}
	if HasState(mustParse(t, `{"session_id":"s1","state":"pending"}`)) {
		t.Error("HasState with scalar state = true")
	}
	if !HasState(mustParse(t, `{"session_id":"s1","state":{}}`)) {
		t.Error("HasState with empty state = false")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, raw := range []string{``, `{`, `[1,2]`, `"text"`} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", raw)
		}
	}
}

func TestApprovalAccessors(t *testing.T) {
	s := mustParse(t, `{
		"session_id": "s1",
		"user_id": "u1",
		"create_time": "2025-01-02T10:00:00Z",
		"state": {
			"workflow_status": "AWAITING_USER_APPROVAL",
			"meal_type": "Lunch",
			"meal_choice_verification_message": "Pick one",
			"meal_choices": [
				{"menu_item_name": "Pizza", "restaurant_name": "Roma", "price": 12.5, "calories": 800, "description": "..."},
				{"name": "Salad", "restaurant_name": "Green", "price": 9, "calories": 350, "description": "fresh", "special_instructions": "no onions"}
			]
		}
	}`)

	if s.ID != "s1" || s.UserID != "u1" {
		t.Errorf("ids = %q/%q", s.ID, s.UserID)
	}
	if want := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC); !s.CreateTime.Equal(want) {
		t.Errorf("CreateTime = %v, want %v", s.CreateTime, want)
	}
	if got := WorkflowStatus(s); got != workflow.AwaitingUserApproval {
		t.Errorf("WorkflowStatus = %q", got)
	}
	if got := MealType(s); got != "Lunch" {
		t.Errorf("MealType = %q", got)
	}
	if got := VerificationMessage(s); got != "Pick one" {
		t.Errorf("VerificationMessage = %q", got)
	}
	if !NeedsApproval(s) {
		t.Error("NeedsApproval = false, want true")
	}

	choices := MealChoices(s)
	if len(choices) != 2 {
		t.Fatalf("len(MealChoices) = %d, want 2", len(choices))
	}
	want := MealChoice{MenuItemName: "Pizza", RestaurantName: "Roma", Price: 12.5, Calories: 800, Description: "..."}
	if choices[0] != want {
		t.Errorf("choices[0] = %+v, want %+v", choices[0], want)
	}
	if choices[1].MenuItemName != "Salad" || choices[1].SpecialInstructions != "no onions" {
		t.Errorf("choices[1] = %+v", choices[1])
	}
}

func TestVerificationMessageObjectSchema(t *testing.T) {
	s := mustParse(t, `{"state":{"meal_choice_verification_message":{"message":"Which one?","options":3}}}`)
	if got := VerificationMessage(s); got != "Which one?" {
		t.Errorf("VerificationMessage = %q", got)
	}
}

func TestLegacyPlanningMealType(t *testing.T) {
	s := mustParse(t, `{"state":{"planning":{"meal_type":"Dinner"}}}`)
	if got := MealType(s); got != "Dinner" {
		t.Errorf("MealType = %q, want Dinner", got)
	}
}

func TestUserChoice(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{`{"state":{"user_choice":["Pizza","extra cheese"]}}`, []string{"Pizza", "extra cheese"}},
		{`{"state":{"user_choice":"2"}}`, []string{"2"}},
		{`{"state":{"user_choice":1}}`, []string{"1"}},
		{`{"state":{"user_choice":[]}}`, []string{}},
	}

	for _, tt := range tests {
		got := UserChoice(mustParse(t, tt.raw))
		if len(got) != len(tt.want) {
			t.Errorf("UserChoice(%s) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("UserChoice(%s)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
			}
		}
	}
}

func TestOrderConfirmationShapes(t *testing.T) {
	t.Run("plain message", func(t *testing.T) {
		s := mustParse(t, `{"state":{"order_confirmation_message":"Order placed"}}`)
		c := OrderConfirmationFor(s)
		if c == nil || c.Message != "Order placed" || c.Bill != nil || len(c.Orders) != 0 {
			t.Fatalf("confirmation = %+v", c)
		}
	})

	t.Run("legacy bill", func(t *testing.T) {
		s := mustParse(t, `{"state":{"order_confirmation_message":{
			"message": "Enjoy!",
			"bill": {"restaurant_name": "Roma", "items": [{"name": "Pizza", "quantity": 2, "price": 25}], "total_amount": 25}
		}}}`)
		bill := OrderBill(s)
		if bill == nil {
			t.Fatal("OrderBill = nil")
		}
		if bill.RestaurantName != "Roma" || bill.TotalAmount != 25 || len(bill.Items) != 1 || bill.Items[0].Quantity != 2 {
			t.Errorf("bill = %+v", bill)
		}
		if got := OrderConfirmationMessage(s); got != "Enjoy!" {
			t.Errorf("message = %q", got)
		}
	})

	t.Run("flat bill at top level", func(t *testing.T) {
		s := mustParse(t, `{"state":{"order_confirmation_message":{
			"restaurant_name": "Roma", "items": [{"name": "Pizza", "price": 12.5}], "total_amount": 12.5
		}}}`)
		c := OrderConfirmationFor(s)
		if c == nil || c.Bill == nil {
			t.Fatalf("confirmation = %+v", c)
		}
		if c.Bill.Items[0].Quantity != 1 {
			t.Errorf("default quantity = %d, want 1", c.Bill.Items[0].Quantity)
		}
		if c.Total() != 12.5 {
			t.Errorf("Total = %v", c.Total())
		}
	})

	t.Run("multi restaurant", func(t *testing.T) {
		s := mustParse(t, `{"state":{"order_confirmation_message":{
			"message": "Two orders placed",
			"orders": [
				{"restaurant_name": "Roma", "items": [{"name": "Pizza", "quantity": 1, "price": 12.5}], "sub_total": 12.5},
				{"restaurant_name": "Green", "items": [{"name": "Salad", "quantity": 1, "price": 9}], "sub_total": 9}
			],
			"grand_total": 21.5
		}}}`)
		c := OrderConfirmationFor(s)
		if c == nil || len(c.Orders) != 2 {
			t.Fatalf("confirmation = %+v", c)
		}
		if c.Bill != nil {
			t.Error("multi-restaurant confirmation should not carry a legacy bill")
		}
		if c.Total() != 21.5 {
			t.Errorf("Total = %v, want 21.5", c.Total())
		}
		if OrderBill(s) != nil {
			t.Error("OrderBill should be nil for multi-restaurant orders")
		}
	})
}

func TestTimestamps(t *testing.T) {
	s := mustParse(t, `{"session_id":"s1","create_time":1735812000.5,"last_update_time":"2025-01-02T10:00:01.123456"}`)
	if s.CreateTime.Unix() != 1735812000 {
		t.Errorf("CreateTime = %v", s.CreateTime)
	}
	if s.UpdateTime.IsZero() {
		t.Error("UpdateTime not parsed from last_update_time")
	}
}

func TestSortAndMerge(t *testing.T) {
	older := mustParse(t, `{"session_id":"a","create_time":"2025-01-01T00:00:00Z"}`)
	newer := mustParse(t, `{"session_id":"b","create_time":"2025-01-03T00:00:00Z"}`)
	middle := mustParse(t, `{"session_id":"c","create_time":"2025-01-02T00:00:00Z"}`)

	sorted := SortNewestFirst([]Session{older, newer, middle})
	if sorted[0].ID != "b" || sorted[1].ID != "c" || sorted[2].ID != "a" {
		t.Errorf("SortNewestFirst order = %s,%s,%s", sorted[0].ID, sorted[1].ID, sorted[2].ID)
	}

	updated := mustParse(t, `{"session_id":"c","create_time":"2025-01-02T00:00:00Z","state":{"workflow_status":"PLACING_ORDER"}}`)
	merged := Merge(sorted, updated)
	if len(merged) != 3 {
		t.Fatalf("len(merged) = %d, want 3", len(merged))
	}
	if WorkflowStatus(merged[1]) != workflow.PlacingOrder {
		t.Errorf("merged[1] status = %q", WorkflowStatus(merged[1]))
	}
	if WorkflowStatus(sorted[1]) != "" {
		t.Error("Merge modified its input")
	}

	fresh := mustParse(t, `{"session_id":"d"}`)
	merged = Merge(merged, fresh)
	if len(merged) != 4 || merged[0].ID != "d" {
		t.Errorf("new session not prepended: %v", merged[0].ID)
	}

	if _, ok := Find(merged, "zzz"); ok {
		t.Error("Find returned a missing session")
	}
}
